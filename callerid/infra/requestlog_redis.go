package infra

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"callerid-gateway/callerid/domain"
)

const defaultRequestLogLimit = 50

// RedisRequestLog mantém as últimas alocações numa lista Redis (LPUSH + LTRIM).
type RedisRequestLog struct {
	rdb   redis.UniversalClient
	key   string
	limit int64
}

type RequestLogOption func(*RedisRequestLog)

func WithRequestLogKey(key string) RequestLogOption {
	return func(l *RedisRequestLog) {
		if k := strings.TrimSpace(key); k != "" {
			l.key = k
		}
	}
}

// WithRequestLogLimit define quantas entradas ficam na lista.
func WithRequestLogLimit(n int) RequestLogOption {
	return func(l *RedisRequestLog) {
		if n > 0 {
			l.limit = int64(n)
		}
	}
}

func NewRedisRequestLog(rdb redis.UniversalClient, opts ...RequestLogOption) *RedisRequestLog {
	l := &RedisRequestLog{rdb: rdb, key: "cid:recent_requests", limit: defaultRequestLogLimit}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisRequestLog) Emit(ctx context.Context, ev domain.AllocationEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode allocation event")
	}
	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, l.key, raw)
	pipe.LTrim(ctx, l.key, 0, l.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fail("LPUSH", err)
	}
	return nil
}

// Recent devolve até n eventos, do mais novo para o mais antigo.
// Entradas que não decodificam são ignoradas.
func (l *RedisRequestLog) Recent(ctx context.Context, n int) ([]domain.AllocationEvent, error) {
	if n <= 0 || int64(n) > l.limit {
		n = int(l.limit)
	}
	items, err := l.rdb.LRange(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fail("LRANGE", err)
	}
	out := make([]domain.AllocationEvent, 0, len(items))
	for _, item := range items {
		var ev domain.AllocationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ domain.EventSink = (*RedisRequestLog)(nil)
