package application

import (
	"context"
	"time"

	"callerid-gateway/callerid/domain"
)

const defaultAgentWindow = 60 * time.Second

// AgentLimiter aplica o teto de requisições por agente numa janela fixa.
//
// A janela nasce no primeiro incremento (TTL só na criação) e expira sozinha.
// Ele não sabe nada sobre HTTP, apenas devolve uma decisão.
type AgentLimiter struct {
	Store     domain.EphemeralStore
	Keys      Keys
	Limit     int
	Window    time.Duration
	OpTimeout time.Duration
}

// Decide incrementa a janela do agente e decide se a chamada pode seguir.
// Limit <= 0 desliga o limitador.
func (l AgentLimiter) Decide(ctx context.Context, agent string) (domain.Decision, error) {
	if l.Limit <= 0 || l.Store == nil {
		return domain.Decision{Allowed: true, Remaining: -1}, nil
	}
	if l.Window <= 0 {
		l.Window = defaultAgentWindow
	}

	key := l.Keys.AgentRate(agent)
	opCtx, cancel := withTimeout(ctx, l.OpTimeout)
	count, err := l.Store.IncrementWithExpiry(opCtx, key, l.Window)
	cancel()
	if err != nil {
		return domain.Decision{}, err
	}

	if count <= int64(l.Limit) {
		return domain.Decision{Allowed: true, Remaining: l.Limit - int(count)}, nil
	}

	opCtx, cancel = withTimeout(ctx, l.OpTimeout)
	ttl, err := l.Store.TTL(opCtx, key)
	cancel()
	if err != nil {
		return domain.Decision{}, err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return domain.Decision{Allowed: false, RetryAfter: ttl, Remaining: 0}, nil
}
