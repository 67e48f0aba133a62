package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"callerid-gateway/callerid/domain"
)

// incrWithExpiry incrementa e aplica PEXPIRE apenas quando a chave nasce
// (ou quando ficou sem TTL), num único round trip atômico.
var incrWithExpiry = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 and (n == 1 or redis.call('PTTL', KEYS[1]) < 0) then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return n
`)

const defaultScanCount = 200

// RedisStore implementa domain.EphemeralStore sobre go-redis.
//
// Cada método é um único comando (ou script) Redis. Falhas de rede/timeout viram
// domain.ErrStoreUnavailable; erros de resposta do servidor (ex.: WRONGTYPE) não.
type RedisStore struct {
	rdb       redis.UniversalClient
	scanCount int64
}

type RedisStoreOption func(*RedisStore)

// WithScanCount ajusta o COUNT usado no SCAN de ScanPrefix.
func WithScanCount(n int64) RedisStoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, scanCount: defaultScanCount}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fail("SET NX", err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail("GET", err)
	}
	return raw, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fail("DEL", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fail("EXISTS", err)
	}
	return n > 0, nil
}

// TTL devolve 0 para chave ausente (-2) ou sem expiração (-1).
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fail("PTTL", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, ttlIfNew time.Duration) (int64, error) {
	n, err := incrWithExpiry.Run(ctx, s.rdb, []string{key}, ttlIfNew.Milliseconds()).Int64()
	if err != nil {
		return 0, fail("INCR", err)
	}
	return n, nil
}

func (s *RedisStore) Counter(ctx context.Context, key string) (int64, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fail("GET", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "key %s does not hold a counter", key)
	}
	return n, nil
}

func (s *RedisStore) SortedSetUpsert(ctx context.Context, scopeKey, member string, score float64) error {
	if err := s.rdb.ZAdd(ctx, scopeKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fail("ZADD", err)
	}
	return nil
}

func (s *RedisStore) SortedSetRange(ctx context.Context, scopeKey string, start, stop int64) ([]string, error) {
	members, err := s.rdb.ZRange(ctx, scopeKey, start, stop).Result()
	if err != nil {
		return nil, fail("ZRANGE", err)
	}
	return members, nil
}

func (s *RedisStore) SortedSetRemove(ctx context.Context, scopeKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.ZRem(ctx, scopeKey, args...).Err(); err != nil {
		return fail("ZREM", err)
	}
	return nil
}

func (s *RedisStore) SortedSetCard(ctx context.Context, scopeKey string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, scopeKey).Result()
	if err != nil {
		return 0, fail("ZCARD", err)
	}
	return n, nil
}

// ScanPrefix usa SCAN (nunca KEYS) para não travar o servidor.
func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fail("SCAN", err)
	}
	return out, nil
}

// fail anota o comando e classifica o erro.
func fail(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return errors.Wrapf(err, "redis %s", op)
	}
	return errors.Wrapf(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err), "redis %s", op)
}

var _ domain.EphemeralStore = (*RedisStore)(nil)
