package infra

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"callerid-gateway/callerid/domain"
)

// RedisStatsStore guarda agregados por campanha:
//
//	{prefix}:campaigns                 SET  com os nomes das campanhas
//	{prefix}:campaign:{c}              HASH total_calls / denied
//	{prefix}:campaign:{c}:agents       SET  com os agentes vistos
//	{prefix}:minute:{YYYYMMDDHHMM}     HASH allowed / denied (série temporal, expira)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal.
	// Os agregados por campanha são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "cid:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) campaignKey(c string) string { return s.prefix + ":campaign:" + c }

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	campaign := strings.TrimSpace(ev.Campaign)
	if campaign == "" {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, s.prefix+":campaigns", campaign)
	pipe.HIncrBy(ctx, s.campaignKey(campaign), "total_calls", 1)
	if !ev.Allowed {
		pipe.HIncrBy(ctx, s.campaignKey(campaign), "denied", 1)
	}
	if agent := strings.TrimSpace(ev.Agent); agent != "" {
		pipe.SAdd(ctx, s.campaignKey(campaign)+":agents", agent)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fail("stats pipeline", err)
	}
	return nil
}

func (s *RedisStatsStore) Campaigns(ctx context.Context) ([]domain.CampaignStats, error) {
	names, err := s.rdb.SMembers(ctx, s.prefix+":campaigns").Result()
	if err != nil {
		return nil, fail("SMEMBERS", err)
	}
	sort.Strings(names)

	out := make([]domain.CampaignStats, 0, len(names))
	for _, name := range names {
		fields, err := s.rdb.HGetAll(ctx, s.campaignKey(name)).Result()
		if err != nil {
			return nil, fail("HGETALL", err)
		}
		agents, err := s.rdb.SCard(ctx, s.campaignKey(name)+":agents").Result()
		if err != nil {
			return nil, fail("SCARD", err)
		}
		st := domain.CampaignStats{Campaign: name, UniqueAgents: agents}
		if st.TotalCalls, err = parseField(fields, "total_calls"); err != nil {
			return nil, err
		}
		if st.Denied, err = parseField(fields, "denied"); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Minute devolve os contadores allowed/denied do minuto que contém at.
func (s *RedisStatsStore) Minute(ctx context.Context, at time.Time) (allowed, denied int64, err error) {
	key := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, fail("HGETALL", err)
	}
	if allowed, err = parseField(fields, "allowed"); err != nil {
		return 0, 0, err
	}
	if denied, err = parseField(fields, "denied"); err != nil {
		return 0, 0, err
	}
	return allowed, denied, nil
}

func parseField(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "stats field %s", name)
	}
	return n, nil
}

var (
	_ domain.StatsStore  = (*RedisStatsStore)(nil)
	_ domain.StatsReader = (*RedisStatsStore)(nil)
)
