package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"callerid-gateway/callerid/domain"
)

// AddNumber cadastra um número novo e o coloca na rotação.
//
// O score inicial é o last_used existente ou "muito antigo", então números novos
// são preferidos. Se a rotação falhar depois da escrita no catálogo, o erro é
// ErrStoreUnavailable; repetir AddNumber (ou chamar SyncRotation) repara a membresia,
// pois um número já cadastrado e ativo volta à rotação antes do ErrNumberAlreadyExists.
func (c *Coordinator) AddNumber(ctx context.Context, spec domain.NumberSpec) (domain.CallerNumber, error) {
	id := NormalizeDigits(spec.ID)
	if len(id) < minNumberDigits || len(id) > maxNumberDigits {
		return domain.CallerNumber{}, fmt.Errorf("%w: caller id %q must have %d-%d digits", domain.ErrInvalidRequest, spec.ID, minNumberDigits, maxNumberDigits)
	}

	area := NormalizeDigits(spec.AreaCode)
	if area == "" {
		area = AreaCodeOf(id)
	}

	existing, err := c.catalog.GetByID(ctx, id)
	switch {
	case err == nil:
		c.repairMembership(ctx, existing)
		return domain.CallerNumber{}, domain.ErrNumberAlreadyExists
	case !errors.Is(err, domain.ErrNumberNotFound):
		return domain.CallerNumber{}, unavailable("catalog lookup", err)
	}

	now := c.clock.Now()
	rec := domain.CallerNumber{
		ID:              id,
		Carrier:         strings.TrimSpace(spec.Carrier),
		AreaCode:        area,
		DailyLimit:      intOr(spec.DailyLimit, c.defaults.DailyLimit),
		HourlyLimit:     intOr(spec.HourlyLimit, c.defaults.HourlyLimit),
		CooldownSeconds: intOr(spec.CooldownSeconds, c.defaults.CooldownSeconds),
		Active:          true,
		Meta:            spec.Meta,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.catalog.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrNumberAlreadyExists) {
			return domain.CallerNumber{}, err
		}
		return domain.CallerNumber{}, unavailable("catalog insert", err)
	}

	if err := c.rotation.EnsureMembership(ctx, rec.ID, rec.AreaCode, membershipScore(rec)); err != nil {
		return rec, unavailable("rotation membership", err)
	}

	c.logger.Info("caller id added",
		zap.String("number", rec.ID),
		zap.String("area_code", rec.AreaCode),
		zap.String("carrier", rec.Carrier),
	)
	return rec, nil
}

// repairMembership recoloca um número ativo na rotação. EnsureMembership é
// idempotente e o score vem do catálogo, então a ordem LRU não muda.
func (c *Coordinator) repairMembership(ctx context.Context, n domain.CallerNumber) {
	if !n.Active {
		return
	}
	if err := c.rotation.EnsureMembership(ctx, n.ID, n.AreaCode, membershipScore(n)); err != nil {
		c.bestEffortFailed("rotation", err, zap.String("number", n.ID))
	}
}

// ReleaseReservation apaga só a reserva. Contadores e score continuam refletindo
// que o número foi usado.
func (c *Coordinator) ReleaseReservation(ctx context.Context, number string) (bool, error) {
	id := NormalizeDigits(number)
	if id == "" {
		return false, fmt.Errorf("%w: caller id is required", domain.ErrInvalidRequest)
	}
	released, err := c.reservations.Release(ctx, id)
	if err != nil {
		return false, unavailable("release reservation", err)
	}
	return released, nil
}

// Reservation devolve a reserva viva do número, ou nil.
func (c *Coordinator) Reservation(ctx context.Context, number string) (*domain.Reservation, error) {
	res, err := c.reservations.Peek(ctx, NormalizeDigits(number))
	if err != nil {
		return nil, unavailable("peek reservation", err)
	}
	return res, nil
}

// DeactivateNumber tira o número de circulação sem apagá-lo do catálogo.
func (c *Coordinator) DeactivateNumber(ctx context.Context, number string) (domain.CallerNumber, error) {
	id := NormalizeDigits(number)
	rec, err := c.catalog.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNumberNotFound) {
			return domain.CallerNumber{}, err
		}
		return domain.CallerNumber{}, unavailable("catalog lookup", err)
	}

	rec.Active = false
	rec.UpdatedAt = c.clock.Now()
	if err := c.catalog.Upsert(ctx, rec); err != nil {
		return domain.CallerNumber{}, unavailable("catalog upsert", err)
	}
	if err := c.rotation.Evict(ctx, rec.ID, rec.AreaCode); err != nil {
		return rec, unavailable("rotation evict", err)
	}
	return rec, nil
}

// SyncRotation reconstrói a membresia da rotação a partir do catálogo.
// Números ativos entram com score = last_used (ou muito antigo); inativos saem.
func (c *Coordinator) SyncRotation(ctx context.Context) (int, error) {
	numbers, err := c.catalog.List(ctx)
	if err != nil {
		return 0, unavailable("catalog list", err)
	}

	synced := 0
	for _, n := range numbers {
		if !n.Active {
			if err := c.rotation.Evict(ctx, n.ID, n.AreaCode); err != nil {
				return synced, unavailable("rotation evict", err)
			}
			continue
		}
		if err := c.rotation.EnsureMembership(ctx, n.ID, n.AreaCode, membershipScore(n)); err != nil {
			return synced, unavailable("rotation membership", err)
		}
		synced++
	}
	c.logger.Info("rotation synced from catalog", zap.Int("active", synced), zap.Int("total", len(numbers)))
	return synced, nil
}

// PreloadRotation roda SyncRotation só quando o escopo global está vazio
// (ex.: Redis reiniciado sem persistência).
func (c *Coordinator) PreloadRotation(ctx context.Context) (bool, error) {
	size, err := c.rotation.Size(ctx)
	if err != nil {
		return false, unavailable("rotation size", err)
	}
	if size > 0 {
		return false, nil
	}
	if _, err := c.SyncRotation(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot junta catálogo, contadores e reservas vivas para o painel.
func (c *Coordinator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	numbers, err := c.catalog.List(ctx)
	if err != nil {
		return domain.Snapshot{}, unavailable("catalog list", err)
	}

	out := domain.Snapshot{Numbers: make([]domain.NumberStatus, 0, len(numbers))}
	for _, n := range numbers {
		st := domain.NumberStatus{CallerNumber: n}
		if st.HourlyCount, err = c.usage.Peek(ctx, n.ID, domain.WindowHourly); err != nil {
			return domain.Snapshot{}, unavailable("usage peek", err)
		}
		if st.DailyCount, err = c.usage.Peek(ctx, n.ID, domain.WindowDaily); err != nil {
			return domain.Snapshot{}, unavailable("usage peek", err)
		}
		if st.Reserved, err = c.reservations.Exists(ctx, n.ID); err != nil {
			return domain.Snapshot{}, unavailable("reservation exists", err)
		}
		out.Numbers = append(out.Numbers, st)
	}

	if out.Reservations, err = c.reservations.Active(ctx); err != nil {
		return domain.Snapshot{}, unavailable("active reservations", err)
	}
	return out, nil
}

func membershipScore(n domain.CallerNumber) float64 {
	if n.LastUsed != nil {
		return Score(*n.LastUsed)
	}
	return VeryOldScore
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
