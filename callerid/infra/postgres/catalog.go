package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"

	"callerid-gateway/callerid/domain"
)

const numberColumns = `caller_id, carrier, area_code, daily_limit, hourly_limit, cooldown_seconds, last_used, active, meta, created_at, updated_at`

// Catalog guarda os números na tabela caller_ids.
type Catalog struct {
	db DBTX
}

func NewCatalog(db DBTX) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetByID(ctx context.Context, id string) (domain.CallerNumber, error) {
	const query = `SELECT ` + numberColumns + ` FROM caller_ids WHERE caller_id = $1`
	n, err := scanNumber(c.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CallerNumber{}, domain.ErrNumberNotFound
		}
		return domain.CallerNumber{}, pkgerrors.Wrap(err, "get caller id")
	}
	return n, nil
}

func (c *Catalog) Insert(ctx context.Context, n domain.CallerNumber) error {
	const query = `
INSERT INTO caller_ids (` + numberColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	meta, err := encodeMeta(n.Meta)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(ctx, query,
		n.ID, n.Carrier, n.AreaCode, n.DailyLimit, n.HourlyLimit, n.CooldownSeconds,
		n.LastUsed, n.Active, meta, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNumberAlreadyExists
		}
		return pkgerrors.Wrap(err, "insert caller id")
	}
	return nil
}

func (c *Catalog) Upsert(ctx context.Context, n domain.CallerNumber) error {
	const query = `
INSERT INTO caller_ids (` + numberColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (caller_id) DO UPDATE SET
	carrier = EXCLUDED.carrier,
	area_code = EXCLUDED.area_code,
	daily_limit = EXCLUDED.daily_limit,
	hourly_limit = EXCLUDED.hourly_limit,
	cooldown_seconds = EXCLUDED.cooldown_seconds,
	last_used = EXCLUDED.last_used,
	active = EXCLUDED.active,
	meta = EXCLUDED.meta,
	updated_at = EXCLUDED.updated_at`

	meta, err := encodeMeta(n.Meta)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(ctx, query,
		n.ID, n.Carrier, n.AreaCode, n.DailyLimit, n.HourlyLimit, n.CooldownSeconds,
		n.LastUsed, n.Active, meta, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "upsert caller id")
	}
	return nil
}

func (c *Catalog) List(ctx context.Context) ([]domain.CallerNumber, error) {
	const query = `SELECT ` + numberColumns + ` FROM caller_ids ORDER BY caller_id`
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list caller ids")
	}
	defer rows.Close()

	var out []domain.CallerNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "scan caller id")
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "list caller ids")
	}
	return out, nil
}

func (c *Catalog) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE caller_ids SET last_used = $2, updated_at = $2 WHERE caller_id = $1`
	tag, err := c.db.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return pkgerrors.Wrap(err, "update last_used")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNumberNotFound
	}
	return nil
}

func scanNumber(row pgx.Row) (domain.CallerNumber, error) {
	var (
		n        domain.CallerNumber
		lastUsed *time.Time
		meta     []byte
	)
	err := row.Scan(&n.ID, &n.Carrier, &n.AreaCode, &n.DailyLimit, &n.HourlyLimit, &n.CooldownSeconds,
		&lastUsed, &n.Active, &meta, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.CallerNumber{}, err
	}
	if lastUsed != nil {
		t := lastUsed.UTC()
		n.LastUsed = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Meta); err != nil {
			return domain.CallerNumber{}, pkgerrors.Wrapf(err, "decode meta of %s", n.ID)
		}
		if len(n.Meta) == 0 {
			n.Meta = nil
		}
	}
	return n, nil
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte(`{}`), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode meta")
	}
	return raw, nil
}

var _ domain.Catalog = (*Catalog)(nil)
