package postgres

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"

	"callerid-gateway/callerid/domain"
)

// AuditLog grava cada alocação na tabela reservations. É um EventSink: o
// Coordinator chama depois da reserva e ignora (loga) falhas.
type AuditLog struct {
	db DBTX
}

func NewAuditLog(db DBTX) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) Emit(ctx context.Context, ev domain.AllocationEvent) error {
	const query = `
INSERT INTO reservations (id, caller_id, area_code, agent, campaign, destination, reserved_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

	_, err := a.db.Exec(ctx, query,
		ev.ID, ev.Number, ev.AreaCode, ev.Agent, ev.Campaign, ev.Destination, ev.ReservedAt, ev.ExpiresAt,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "insert reservation audit")
	}
	return nil
}

// Recent lista as últimas alocações de um número (mais nova primeiro).
func (a *AuditLog) Recent(ctx context.Context, callerID string, limit int) ([]domain.AllocationEvent, error) {
	const query = `
SELECT id::text, caller_id, area_code, agent, campaign, destination, reserved_at, expires_at
FROM reservations
WHERE caller_id = $1
ORDER BY reserved_at DESC
LIMIT $2`

	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(ctx, query, callerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list reservation audit")
	}
	defer rows.Close()

	var out []domain.AllocationEvent
	for rows.Next() {
		var (
			ev                    domain.AllocationEvent
			reservedAt, expiresAt time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.Number, &ev.AreaCode, &ev.Agent, &ev.Campaign, &ev.Destination, &reservedAt, &expiresAt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan reservation audit")
		}
		ev.ReservedAt, ev.ExpiresAt = reservedAt.UTC(), expiresAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "list reservation audit")
	}
	return out, nil
}

var _ domain.EventSink = (*AuditLog)(nil)
