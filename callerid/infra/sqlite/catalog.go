// Package sqlite implementa o Catalog num arquivo SQLite (modernc, sem cgo).
// Serve para desenvolvimento e instalações de um único nó.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"callerid-gateway/callerid/domain"
)

const numberColumns = `caller_id, carrier, area_code, daily_limit, hourly_limit, cooldown_seconds, last_used_ms, active, meta_json, created_ms, updated_ms`

// Catalog guarda os números na tabela caller_ids. Instantes são gravados em
// milissegundos epoch (UTC).
type Catalog struct {
	db *sql.DB
}

// Open abre (ou cria) o banco e aplica o schema. ":memory:" é aceito.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open sqlite %s", path)
	}
	// Uma conexão só: SQLite serializa escrita e ":memory:" é por conexão.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Catalog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS caller_ids (
			caller_id TEXT PRIMARY KEY,
			carrier TEXT NOT NULL DEFAULT '',
			area_code TEXT NOT NULL DEFAULT '',
			daily_limit INTEGER NOT NULL,
			hourly_limit INTEGER NOT NULL,
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			last_used_ms INTEGER,
			active INTEGER NOT NULL DEFAULT 1,
			meta_json TEXT NOT NULL DEFAULT '{}',
			created_ms INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_caller_ids_area ON caller_ids(active, area_code);`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "migrate sqlite catalog")
		}
	}
	return nil
}

func (c *Catalog) GetByID(ctx context.Context, id string) (domain.CallerNumber, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+numberColumns+` FROM caller_ids WHERE caller_id = ?`, id)
	n, err := scanNumber(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CallerNumber{}, domain.ErrNumberNotFound
		}
		return domain.CallerNumber{}, pkgerrors.Wrap(err, "get caller id")
	}
	return n, nil
}

func (c *Catalog) Insert(ctx context.Context, n domain.CallerNumber) error {
	args, err := numberArgs(n)
	if err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `INSERT INTO caller_ids (`+numberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(caller_id) DO NOTHING`, args...)
	if err != nil {
		return pkgerrors.Wrap(err, "insert caller id")
	}
	affected, err := rowsAffected(res, "insert caller id")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNumberAlreadyExists
	}
	return nil
}

func (c *Catalog) Upsert(ctx context.Context, n domain.CallerNumber) error {
	args, err := numberArgs(n)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO caller_ids (`+numberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(caller_id) DO UPDATE SET
			carrier = excluded.carrier,
			area_code = excluded.area_code,
			daily_limit = excluded.daily_limit,
			hourly_limit = excluded.hourly_limit,
			cooldown_seconds = excluded.cooldown_seconds,
			last_used_ms = excluded.last_used_ms,
			active = excluded.active,
			meta_json = excluded.meta_json,
			updated_ms = excluded.updated_ms`, args...)
	if err != nil {
		return pkgerrors.Wrap(err, "upsert caller id")
	}
	return nil
}

func (c *Catalog) List(ctx context.Context) ([]domain.CallerNumber, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+numberColumns+` FROM caller_ids ORDER BY caller_id`)
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
	return out, pkgerrors.Wrap(rows.Err(), "list caller ids")
}

func (c *Catalog) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	ms := at.UTC().UnixMilli()
	res, err := c.db.ExecContext(ctx, `UPDATE caller_ids SET last_used_ms = ?, updated_ms = ? WHERE caller_id = ?`, ms, ms, id)
	if err != nil {
		return pkgerrors.Wrap(err, "update last_used")
	}
	affected, err := rowsAffected(res, "update last_used")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNumberNotFound
	}
	return nil
}

func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "%s: rows affected", op)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNumber(row scanner) (domain.CallerNumber, error) {
	var (
		n                  domain.CallerNumber
		lastUsed           sql.NullInt64
		active             int64
		meta               string
		createdMs, updated int64
	)
	if err := row.Scan(&n.ID, &n.Carrier, &n.AreaCode, &n.DailyLimit, &n.HourlyLimit, &n.CooldownSeconds,
		&lastUsed, &active, &meta, &createdMs, &updated); err != nil {
		return domain.CallerNumber{}, err
	}
	if lastUsed.Valid {
		t := time.UnixMilli(lastUsed.Int64).UTC()
		n.LastUsed = &t
	}
	n.Active = active != 0
	n.CreatedAt = time.UnixMilli(createdMs).UTC()
	n.UpdatedAt = time.UnixMilli(updated).UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &n.Meta); err != nil {
			return domain.CallerNumber{}, pkgerrors.Wrapf(err, "decode meta of %s", n.ID)
		}
	}
	return n, nil
}

func numberArgs(n domain.CallerNumber) ([]any, error) {
	meta := "{}"
	if n.Meta != nil {
		raw, err := json.Marshal(n.Meta)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "encode meta")
		}
		meta = string(raw)
	}
	var lastUsed sql.NullInt64
	if n.LastUsed != nil {
		lastUsed = sql.NullInt64{Int64: n.LastUsed.UTC().UnixMilli(), Valid: true}
	}
	active := 0
	if n.Active {
		active = 1
	}
	return []any{
		n.ID, n.Carrier, n.AreaCode, n.DailyLimit, n.HourlyLimit, n.CooldownSeconds,
		lastUsed, active, meta, n.CreatedAt.UTC().UnixMilli(), n.UpdatedAt.UTC().UnixMilli(),
	}, nil
}

var _ domain.Catalog = (*Catalog)(nil)
