package application

import (
	"context"
	"strings"
	"time"

	"callerid-gateway/callerid/domain"
)

const (
	GlobalScope      = "global"
	defaultKeyPrefix = "cid"
	defaultOpTimeout = 250 * time.Millisecond
)

// Keys monta o layout de chaves no store efêmero.
type Keys struct {
	Prefix string
}

func (k Keys) prefix() string {
	p := strings.Trim(k.Prefix, ":")
	if p == "" {
		return defaultKeyPrefix
	}
	return p
}

func (k Keys) Reservation(number string) string {
	return k.prefix() + ":reservation:" + number
}

func (k Keys) ReservationPrefix() string {
	return k.prefix() + ":reservation:"
}

func (k Keys) Usage(number string, kind domain.WindowKind, period string) string {
	return k.prefix() + ":usage:" + string(kind) + ":" + number + ":" + period
}

func (k Keys) AgentRate(agent string) string {
	return k.prefix() + ":agent:" + agent + ":rate"
}

// Rotation devolve a chave do sorted set do escopo; "" significa escopo global.
func (k Keys) Rotation(scope string) string {
	if scope == "" {
		scope = GlobalScope
	}
	return k.prefix() + ":lru:" + scope
}

// withTimeout aplica o timeout por operação. d <= 0 usa o padrão.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
