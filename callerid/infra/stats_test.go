package infra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"callerid-gateway/callerid/domain"
)

func recordAll(t *testing.T, s domain.StatsStore, evs ...domain.StatsEvent) {
	t.Helper()
	for _, ev := range evs {
		if err := s.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
}

var statsFixture = []domain.StatsEvent{
	{Campaign: "spring", Agent: "a1", Allowed: true, Number: "2125550001"},
	{Campaign: "spring", Agent: "a2", Allowed: false},
	{Campaign: "spring", Agent: "a1", Allowed: true, Number: "2125550001"},
	{Campaign: "autumn", Agent: "a3", Allowed: true, Number: "3105550001"},
}

func assertCampaigns(t *testing.T, got []domain.CampaignStats) {
	t.Helper()
	if len(got) != 2 {
		t.Fatalf("expected 2 campaigns, got %+v", got)
	}
	if got[0].Campaign != "autumn" || got[0].TotalCalls != 1 || got[0].Denied != 0 || got[0].UniqueAgents != 1 {
		t.Fatalf("unexpected autumn stats: %+v", got[0])
	}
	if got[1].Campaign != "spring" || got[1].TotalCalls != 3 || got[1].Denied != 1 || got[1].UniqueAgents != 2 {
		t.Fatalf("unexpected spring stats: %+v", got[1])
	}
}

func TestMemoryStatsStore_Campaigns(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackNumbers(true))
	recordAll(t, s, statsFixture...)

	got, _ := s.Campaigns(context.Background())
	assertCampaigns(t, got)

	if n := s.ByNumber()["2125550001"]; n != 2 {
		t.Fatalf("expected 2 allocations for 2125550001, got %d", n)
	}
}

func TestRedisStatsStore_Campaigns(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	at := time.Date(2024, 5, 10, 12, 30, 15, 0, time.UTC)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("test:stats:"), WithStatsTTL(time.Hour))
	evs := make([]domain.StatsEvent, len(statsFixture))
	for i, ev := range statsFixture {
		ev.At = at
		evs[i] = ev
	}
	recordAll(t, s, evs...)

	got, err := s.Campaigns(context.Background())
	if err != nil {
		t.Fatalf("campaigns: %v", err)
	}
	assertCampaigns(t, got)

	allowed, denied, err := s.Minute(context.Background(), at)
	if err != nil || allowed != 3 || denied != 1 {
		t.Fatalf("expected minute bucket 3/1, got %d/%d err=%v", allowed, denied, err)
	}
	if ttl := mr.TTL("test:stats:minute:202405101230"); ttl != time.Hour {
		t.Fatalf("expected minute bucket ttl 1h, got %s", ttl)
	}
}

func TestRedisStatsStore_IgnoresEmptyCampaign(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb)
	recordAll(t, s, domain.StatsEvent{Agent: "a1", Allowed: true})

	got, _ := s.Campaigns(context.Background())
	if len(got) != 0 {
		t.Fatalf("expected no campaigns, got %+v", got)
	}
}
