package infra

import (
	"context"
	"sort"
	"sync"

	"callerid-gateway/callerid/domain"
)

type campaignCounters struct {
	total  int64
	denied int64
	agents map[string]struct{}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	byCampaign map[string]*campaignCounters
	byNumber   map[string]int64

	trackNumbers bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackNumbers também conta alocações por caller-ID.
func WithTrackNumbers(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackNumbers = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byCampaign: make(map[string]*campaignCounters),
		byNumber:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCampaign[ev.Campaign]
	if !ok {
		c = &campaignCounters{agents: make(map[string]struct{})}
		s.byCampaign[ev.Campaign] = c
	}
	c.total++
	if !ev.Allowed {
		c.denied++
	}
	if ev.Agent != "" {
		c.agents[ev.Agent] = struct{}{}
	}
	if s.trackNumbers && ev.Allowed && ev.Number != "" {
		s.byNumber[ev.Number]++
	}
	return nil
}

func (s *MemoryStatsStore) Campaigns(_ context.Context) ([]domain.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CampaignStats, 0, len(s.byCampaign))
	for name, c := range s.byCampaign {
		out = append(out, domain.CampaignStats{
			Campaign:     name,
			TotalCalls:   c.total,
			Denied:       c.denied,
			UniqueAgents: int64(len(c.agents)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Campaign < out[j].Campaign })
	return out, nil
}

func (s *MemoryStatsStore) ByNumber() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byNumber))
	for k, v := range s.byNumber {
		out[k] = v
	}
	return out
}

var (
	_ domain.StatsStore  = (*MemoryStatsStore)(nil)
	_ domain.StatsReader = (*MemoryStatsStore)(nil)
)
