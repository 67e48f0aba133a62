package application

import (
	"context"
	"time"

	"callerid-gateway/callerid/domain"
	"callerid-gateway/clock"
)

// UsageCounters conta usos por número em janelas horária e diária (UTC).
//
// A chave carrega o período (YYYYMMDDHH / YYYYMMDD); a expiração é aplicada só na
// criação e coincide com o fim do período, então a virada é automática.
type UsageCounters struct {
	Store     domain.EphemeralStore
	Keys      Keys
	Clock     clock.Clock
	OpTimeout time.Duration
}

// Increment soma 1 na janela corrente e devolve a nova contagem.
func (u UsageCounters) Increment(ctx context.Context, number string, kind domain.WindowKind) (int64, error) {
	now := u.now()
	ttl := kind.PeriodEnd(now).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}

	opCtx, cancel := withTimeout(ctx, u.OpTimeout)
	defer cancel()
	return u.Store.IncrementWithExpiry(opCtx, u.Keys.Usage(number, kind, kind.PeriodKey(now)), ttl)
}

// Peek lê a contagem da janela corrente sem alterá-la.
func (u UsageCounters) Peek(ctx context.Context, number string, kind domain.WindowKind) (int64, error) {
	opCtx, cancel := withTimeout(ctx, u.OpTimeout)
	defer cancel()
	return u.Store.Counter(opCtx, u.Keys.Usage(number, kind, kind.PeriodKey(u.now())))
}

// OverLimit informa se count atingiu o limite. limit <= 0 significa ilimitado.
func OverLimit(count int64, limit int) bool {
	return limit > 0 && count >= int64(limit)
}

func (u UsageCounters) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now()
}
