package infra

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"callerid-gateway/callerid/domain"
	"callerid-gateway/clock"
)

// MemoryStore é um EphemeralStore em memória, atômico por mutex.
// Útil para testes e desenvolvimento; não é compartilhado entre processos.
//
// A expiração segue o relógio injetado, então testes controlam TTL sem sleep.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	kv    map[string]memEntry
	zsets map[string]map[string]float64
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero = sem expiração
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryClock(c clock.Clock) MemoryStoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		clock: clock.NewSystem(),
		kv:    make(map[string]memEntry),
		zsets: make(map[string]map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live devolve a entrada se existir e não tiver expirado. Chamar com mu travado.
func (s *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := s.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.kv[key] = memEntry{value: append([]byte(nil), value...), expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	delete(s.kv, key)
	return ok, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok, nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.clock.Now()), nil
}

func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, ttlIfNew time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	var n int64
	if ok {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "key %s does not hold a counter", key)
		}
		n = v
	} else if ttlIfNew > 0 {
		e.expiresAt = s.clock.Now().Add(ttlIfNew)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	s.kv[key] = e
	return n, nil
}

func (s *MemoryStore) Counter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "key %s does not hold a counter", key)
	}
	return n, nil
}

func (s *MemoryStore) SortedSetUpsert(ctx context.Context, scopeKey, member string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zsets[scopeKey]
	if !ok {
		z = make(map[string]float64)
		s.zsets[scopeKey] = z
	}
	z[member] = score
	return nil
}

// SortedSetRange segue a semântica do ZRANGE: score crescente, empate pelo membro,
// índices inclusivos e negativos contando do fim.
func (s *MemoryStore) SortedSetRange(ctx context.Context, scopeKey string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	z := s.zsets[scopeKey]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	s.mu.Unlock()

	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (s *MemoryStore) SortedSetRemove(ctx context.Context, scopeKey string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.zsets[scopeKey]
	for _, m := range members {
		delete(z, m)
	}
	return nil
}

func (s *MemoryStore) SortedSetCard(ctx context.Context, scopeKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[scopeKey])), nil
}

// Score devolve o score do membro (apenas para testes e diagnóstico).
func (s *MemoryStore) Score(scopeKey, member string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.zsets[scopeKey][member]
	return v, ok
}

func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.kv {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.live(k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ domain.EphemeralStore = (*MemoryStore)(nil)
