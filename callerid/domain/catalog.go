package domain

import (
	"context"
	"time"
)

// Catalog é o registro durável dos números (fonte da verdade de existência/config).
//
// GetByID devolve ErrNumberNotFound quando o id não existe.
// Insert devolve ErrNumberAlreadyExists em conflito.
type Catalog interface {
	GetByID(ctx context.Context, id string) (CallerNumber, error)
	Insert(ctx context.Context, n CallerNumber) error
	Upsert(ctx context.Context, n CallerNumber) error
	List(ctx context.Context) ([]CallerNumber, error)
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}
