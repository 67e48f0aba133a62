package infra

import (
	"context"
	"reflect"
	"testing"
	"time"

	"callerid-gateway/clock"
)

func newMemStore(t *testing.T) (*MemoryStore, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	return NewMemoryStore(WithMemoryClock(clk)), clk
}

func TestMemoryStore_SetIfAbsentIsExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newMemStore(t)

	ok, err := s.SetIfAbsentWithTTL(ctx, "k", []byte("a"), 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first set to succeed, ok=%v err=%v", ok, err)
	}
	ok, _ = s.SetIfAbsentWithTTL(ctx, "k", []byte("b"), 10*time.Second)
	if ok {
		t.Fatalf("expected second set to fail while key is live")
	}

	clk.Advance(10 * time.Second)
	ok, _ = s.SetIfAbsentWithTTL(ctx, "k", []byte("c"), 10*time.Second)
	if !ok {
		t.Fatalf("expected set to succeed after expiry")
	}
	raw, found, _ := s.Get(ctx, "k")
	if !found || string(raw) != "c" {
		t.Fatalf("expected value c, got %q found=%v", raw, found)
	}
}

func TestMemoryStore_IncrementAppliesTTLOnlyOnCreation(t *testing.T) {
	ctx := context.Background()
	s, clk := newMemStore(t)

	if n, _ := s.IncrementWithExpiry(ctx, "c", time.Minute); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	clk.Advance(40 * time.Second)
	if n, _ := s.IncrementWithExpiry(ctx, "c", time.Minute); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	ttl, _ := s.TTL(ctx, "c")
	if ttl != 20*time.Second {
		t.Fatalf("expected ttl to keep counting from creation (20s), got %s", ttl)
	}

	clk.Advance(20 * time.Second)
	if n, _ := s.Counter(ctx, "c"); n != 0 {
		t.Fatalf("expected counter to reset after window, got %d", n)
	}
}

func TestMemoryStore_SortedSetRangeOrdersByScoreThenMember(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemStore(t)

	_ = s.SortedSetUpsert(ctx, "z", "c", 5)
	_ = s.SortedSetUpsert(ctx, "z", "b", 0)
	_ = s.SortedSetUpsert(ctx, "z", "a", 0)
	_ = s.SortedSetUpsert(ctx, "z", "d", 1)

	got, _ := s.SortedSetRange(ctx, "z", 0, -1)
	if want := []string{"a", "b", "d", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	got, _ = s.SortedSetRange(ctx, "z", 0, 1)
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	_ = s.SortedSetUpsert(ctx, "z", "a", 9)
	if n, _ := s.SortedSetCard(ctx, "z"); n != 4 {
		t.Fatalf("expected upsert to keep cardinality at 4, got %d", n)
	}
	_ = s.SortedSetRemove(ctx, "z", "a", "missing")
	if n, _ := s.SortedSetCard(ctx, "z"); n != 3 {
		t.Fatalf("expected 3 after remove, got %d", n)
	}
}

func TestMemoryStore_ScanPrefixSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s, clk := newMemStore(t)

	_, _ = s.SetIfAbsentWithTTL(ctx, "p:1", []byte("x"), time.Second)
	_, _ = s.SetIfAbsentWithTTL(ctx, "p:2", []byte("x"), time.Minute)
	_, _ = s.SetIfAbsentWithTTL(ctx, "q:1", []byte("x"), time.Minute)
	clk.Advance(2 * time.Second)

	got, _ := s.ScanPrefix(ctx, "p:")
	if want := []string{"p:2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s, _ := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Exists(ctx, "k"); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}
