package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"callerid-gateway/callerid/domain"
)

// ReservationStore guarda o lease exclusivo por número.
//
// Estados: None -> Reserved (TryAcquire), Reserved -> None (Release ou TTL).
// Reserved -> Reserved não existe: TryAcquire falha se a chave já está lá.
type ReservationStore struct {
	Store     domain.EphemeralStore
	Keys      Keys
	OpTimeout time.Duration
}

// TryAcquire cria a reserva com TTL num único SET-if-absent.
func (s ReservationStore) TryAcquire(ctx context.Context, number string, ttl time.Duration, payload domain.Reservation) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: reservation ttl must be > 0", domain.ErrInvalidRequest)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode reservation: %w", err)
	}

	opCtx, cancel := withTimeout(ctx, s.OpTimeout)
	defer cancel()
	return s.Store.SetIfAbsentWithTTL(opCtx, s.Keys.Reservation(number), raw, ttl)
}

// Release apaga a reserva. Devolve false se não havia reserva viva.
func (s ReservationStore) Release(ctx context.Context, number string) (bool, error) {
	opCtx, cancel := withTimeout(ctx, s.OpTimeout)
	defer cancel()
	return s.Store.Delete(opCtx, s.Keys.Reservation(number))
}

// Peek devolve o payload da reserva viva, ou nil.
func (s ReservationStore) Peek(ctx context.Context, number string) (*domain.Reservation, error) {
	opCtx, cancel := withTimeout(ctx, s.OpTimeout)
	defer cancel()

	raw, ok, err := s.Store.Get(opCtx, s.Keys.Reservation(number))
	if err != nil || !ok {
		return nil, err
	}
	var res domain.Reservation
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", number, err)
	}
	return &res, nil
}

func (s ReservationStore) Exists(ctx context.Context, number string) (bool, error) {
	opCtx, cancel := withTimeout(ctx, s.OpTimeout)
	defer cancel()
	return s.Store.Exists(opCtx, s.Keys.Reservation(number))
}

// Active lista as reservas vivas com TTL restante. Reservas que expiram durante
// a varredura são simplesmente ignoradas.
func (s ReservationStore) Active(ctx context.Context) ([]domain.ActiveReservation, error) {
	prefix := s.Keys.ReservationPrefix()
	keys, err := s.Store.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ActiveReservation, 0, len(keys))
	for _, key := range keys {
		number := strings.TrimPrefix(key, prefix)
		res, err := s.Peek(ctx, number)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		opCtx, cancel := withTimeout(ctx, s.OpTimeout)
		ttl, err := s.Store.TTL(opCtx, key)
		cancel()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ActiveReservation{Number: number, Reservation: *res, ExpiresIn: ttl})
	}
	return out, nil
}
