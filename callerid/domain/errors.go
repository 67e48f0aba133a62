package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDestination  = errors.New("invalid destination")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRateLimited         = errors.New("agent rate limited")
	ErrNoAvailableNumber   = errors.New("no caller id available")
	ErrNumberAlreadyExists = errors.New("caller id already exists")
	ErrNumberNotFound      = errors.New("caller id not found")
	ErrStoreUnavailable    = errors.New("dependent store unavailable")
)

// RateLimitError carrega o Retry-After da janela do agente.
type RateLimitError struct {
	Agent      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent %q rate limited, retry after %s", e.Agent, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
