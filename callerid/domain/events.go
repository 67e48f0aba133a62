package domain

import (
	"context"
	"time"
)

// AllocationEvent é emitido após cada reserva bem sucedida.
type AllocationEvent struct {
	ID          string    `json:"id"`
	Number      string    `json:"caller_id"`
	AreaCode    string    `json:"area_code,omitempty"`
	Agent       string    `json:"agent"`
	Campaign    string    `json:"campaign"`
	Destination string    `json:"destination"`
	ReservedAt  time.Time `json:"reserved_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// EventSink recebe eventos de alocação (NATS, lista Redis, auditoria SQL...).
//
// O Coordinator trata erro como best-effort: loga e segue.
type EventSink interface {
	Emit(ctx context.Context, ev AllocationEvent) error
}
