package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"callerid-gateway/callerid/domain"
	"callerid-gateway/callerid/infra"
	"callerid-gateway/clock"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	co      *Coordinator
	store   *faultyStore
	catalog *faultyCatalog
	clk     *clock.Manual
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := clock.NewManual(t0)
	store := &faultyStore{MemoryStore: infra.NewMemoryStore(infra.WithMemoryClock(clk))}
	catalog := &faultyCatalog{MemoryCatalog: infra.NewMemoryCatalog()}
	opts = append([]Option{WithClock(clk)}, opts...)
	return &harness{
		co:      NewCoordinator(catalog, store, opts...),
		store:   store,
		catalog: catalog,
		clk:     clk,
	}
}

func intp(v int) *int { return &v }

// add cadastra um número sem limites (exceto os informados em mutate).
func (h *harness) add(t *testing.T, id string, mutate ...func(*domain.NumberSpec)) domain.CallerNumber {
	t.Helper()
	spec := domain.NumberSpec{ID: id, DailyLimit: intp(0), HourlyLimit: intp(0), CooldownSeconds: intp(0)}
	for _, m := range mutate {
		m(&spec)
	}
	n, err := h.co.AddNumber(context.Background(), spec)
	if err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	return n
}

func (h *harness) allocate(t *testing.T, destination string) domain.AllocationResult {
	t.Helper()
	res, err := h.co.Allocate(context.Background(), destination, "CampaignX", "Agent1")
	if err != nil {
		t.Fatalf("allocate %s: %v", destination, err)
	}
	return res
}

func (h *harness) release(t *testing.T, number string) {
	t.Helper()
	if ok, err := h.co.ReleaseReservation(context.Background(), number); err != nil || !ok {
		t.Fatalf("release %s: ok=%v err=%v", number, ok, err)
	}
}

var errInjected = fmt.Errorf("%w: injected", domain.ErrStoreUnavailable)

// faultyStore injeta falhas por operação sobre o MemoryStore.
type faultyStore struct {
	*infra.MemoryStore

	mu          sync.Mutex
	failSetNX   bool
	failIncr    bool
	failRange   bool
	failCounter bool
	failZAdd    bool
}

func (s *faultyStore) fail(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *flag
}

func (s *faultyStore) set(fn func(s *faultyStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *faultyStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.fail(&s.failSetNX) {
		return false, errInjected
	}
	return s.MemoryStore.SetIfAbsentWithTTL(ctx, key, value, ttl)
}

func (s *faultyStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.fail(&s.failIncr) {
		return 0, errInjected
	}
	return s.MemoryStore.IncrementWithExpiry(ctx, key, ttl)
}

func (s *faultyStore) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if s.fail(&s.failRange) {
		return nil, errInjected
	}
	return s.MemoryStore.SortedSetRange(ctx, key, start, stop)
}

func (s *faultyStore) Counter(ctx context.Context, key string) (int64, error) {
	if s.fail(&s.failCounter) {
		return 0, errInjected
	}
	return s.MemoryStore.Counter(ctx, key)
}

func (s *faultyStore) SortedSetUpsert(ctx context.Context, key, member string, score float64) error {
	if s.fail(&s.failZAdd) {
		return errInjected
	}
	return s.MemoryStore.SortedSetUpsert(ctx, key, member, score)
}

// faultyCatalog injeta falhas sobre o MemoryCatalog.
type faultyCatalog struct {
	*infra.MemoryCatalog

	failGet      bool
	failLastUsed bool
	failList     bool
}

func (c *faultyCatalog) GetByID(ctx context.Context, id string) (domain.CallerNumber, error) {
	if c.failGet {
		return domain.CallerNumber{}, fmt.Errorf("catalog down")
	}
	return c.MemoryCatalog.GetByID(ctx, id)
}

func (c *faultyCatalog) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	if c.failLastUsed {
		return fmt.Errorf("catalog down")
	}
	return c.MemoryCatalog.UpdateLastUsed(ctx, id, at)
}

func (c *faultyCatalog) List(ctx context.Context) ([]domain.CallerNumber, error) {
	if c.failList {
		return nil, fmt.Errorf("catalog down")
	}
	return c.MemoryCatalog.List(ctx)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AllocationEvent
	err    error
}

func (s *recordingSink) Emit(_ context.Context, ev domain.AllocationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}
