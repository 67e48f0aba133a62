package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callerid-gateway/callerid/domain"
	"callerid-gateway/clock"
)

const (
	defaultReservationTTL    = 300 * time.Second
	defaultCandidatePageSize = 100
	defaultDailyLimit        = 1000
	defaultHourlyLimit       = 100
)

// NumberDefaults são aplicados em AddNumber quando o campo não foi informado.
type NumberDefaults struct {
	DailyLimit      int
	HourlyLimit     int
	CooldownSeconds int
}

// Coordinator é o único ponto de entrada do motor: orquestra o Catalog e os quatro
// componentes efêmeros a cada requisição.
type Coordinator struct {
	catalog      domain.Catalog
	rotation     RotationIndex
	reservations ReservationStore
	usage        UsageCounters
	agents       AgentLimiter

	clock    clock.Clock
	logger   *zap.Logger
	events   domain.EventSink
	stats    domain.StatsStore
	ttl      time.Duration
	pageSize int
	defaults NumberDefaults
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) {
		if l != nil {
			co.logger = l
		}
	}
}

func WithEventSink(s domain.EventSink) Option {
	return func(co *Coordinator) { co.events = s }
}

func WithStats(s domain.StatsStore) Option {
	return func(co *Coordinator) { co.stats = s }
}

// WithReservationTTL sobrescreve o TTL padrão (300s) das reservas.
func WithReservationTTL(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.ttl = d
		}
	}
}

func WithCandidatePageSize(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.pageSize = n
		}
	}
}

// WithAgentRateLimit define o teto por agente a cada 60s. 0 desliga.
func WithAgentRateLimit(perMinute int) Option {
	return func(co *Coordinator) { co.agents.Limit = perMinute }
}

// WithOpTimeout define o timeout de cada operação no store efêmero.
func WithOpTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.rotation.OpTimeout = d
		co.reservations.OpTimeout = d
		co.usage.OpTimeout = d
		co.agents.OpTimeout = d
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(co *Coordinator) {
		k := Keys{Prefix: prefix}
		co.rotation.Keys = k
		co.reservations.Keys = k
		co.usage.Keys = k
		co.agents.Keys = k
	}
}

func WithNumberDefaults(d NumberDefaults) Option {
	return func(co *Coordinator) { co.defaults = d }
}

func NewCoordinator(catalog domain.Catalog, store domain.EphemeralStore, opts ...Option) *Coordinator {
	co := &Coordinator{
		catalog:      catalog,
		rotation:     RotationIndex{Store: store},
		reservations: ReservationStore{Store: store},
		usage:        UsageCounters{Store: store},
		agents:       AgentLimiter{Store: store, Window: defaultAgentWindow},
		clock:        clock.NewSystem(),
		logger:       zap.NewNop(),
		ttl:          defaultReservationTTL,
		pageSize:     defaultCandidatePageSize,
		defaults: NumberDefaults{
			DailyLimit:  defaultDailyLimit,
			HourlyLimit: defaultHourlyLimit,
		},
	}
	for _, opt := range opts {
		opt(co)
	}
	co.rotation.Clock = co.clock
	co.usage.Clock = co.clock
	return co
}

// Rotation expõe o índice de rotação (usado por testes e ferramentas administrativas).
func (c *Coordinator) Rotation() RotationIndex { return c.rotation }

// Reservations expõe o store de reservas.
func (c *Coordinator) Reservations() ReservationStore { return c.reservations }

type allocationRequest struct {
	destination string
	areaCode    string
	campaign    string
	agent       string
}

// Allocate escolhe um caller-ID para a chamada e o reserva com exclusividade.
//
// O laço é otimista: quem perde a corrida num candidato passa para o próximo, sem
// retry nem espera. Só a exaustão da lista vira ErrNoAvailableNumber.
func (c *Coordinator) Allocate(ctx context.Context, destination, campaign, agent string) (domain.AllocationResult, error) {
	started := time.Now()
	defer func() { allocationDurationHist.Observe(time.Since(started).Seconds()) }()

	req, err := c.validate(destination, campaign, agent)
	if err != nil {
		allocationsCounter.WithLabelValues("invalid").Inc()
		return domain.AllocationResult{}, err
	}

	dec, err := c.agents.Decide(ctx, req.agent)
	if err != nil {
		allocationsCounter.WithLabelValues("store_unavailable").Inc()
		return domain.AllocationResult{}, unavailable("agent rate limit", err)
	}
	if !dec.Allowed {
		allocationsCounter.WithLabelValues("rate_limited").Inc()
		c.recordStats(ctx, req, false, "")
		return domain.AllocationResult{}, &domain.RateLimitError{Agent: req.agent, RetryAfter: dec.RetryAfter}
	}

	candidates, err := c.rotation.CandidatePool(ctx, req.areaCode, c.pageSize)
	if err != nil {
		allocationsCounter.WithLabelValues("store_unavailable").Inc()
		return domain.AllocationResult{}, unavailable("candidate pool", err)
	}

	storeFailures := 0
	for _, number := range candidates {
		if err := ctx.Err(); err != nil {
			allocationsCounter.WithLabelValues("canceled").Inc()
			return domain.AllocationResult{}, err
		}

		outcome, res := c.attempt(ctx, number, req)
		candidateOutcomesCounter.WithLabelValues(string(outcome)).Inc()
		c.logger.Debug("candidate evaluated",
			zap.String("number", number),
			zap.String("outcome", string(outcome)),
			zap.String("agent", req.agent),
		)

		switch outcome {
		case domain.OutcomeAccepted:
			if dec.Remaining >= 0 {
				remaining := dec.Remaining
				res.RateLimitRemaining = &remaining
			}
			allocationsCounter.WithLabelValues("success").Inc()
			c.recordStats(ctx, req, true, res.Number)
			return res, nil
		case domain.OutcomeSkippedError:
			storeFailures++
		}
	}

	if storeFailures > 0 {
		allocationsCounter.WithLabelValues("store_unavailable").Inc()
		return domain.AllocationResult{}, fmt.Errorf("%w: %d candidate(s) failed on store errors", domain.ErrStoreUnavailable, storeFailures)
	}
	allocationsCounter.WithLabelValues("exhausted").Inc()
	c.recordStats(ctx, req, false, "")
	return domain.AllocationResult{}, domain.ErrNoAvailableNumber
}

func (c *Coordinator) validate(destination, campaign, agent string) (allocationRequest, error) {
	agent = strings.TrimSpace(agent)
	campaign = strings.TrimSpace(campaign)
	if agent == "" {
		return allocationRequest{}, fmt.Errorf("%w: agent is required", domain.ErrInvalidRequest)
	}
	if campaign == "" {
		return allocationRequest{}, fmt.Errorf("%w: campaign is required", domain.ErrInvalidRequest)
	}
	digits, area, err := ParseDestination(destination)
	if err != nil {
		return allocationRequest{}, err
	}
	return allocationRequest{destination: digits, areaCode: area, campaign: campaign, agent: agent}, nil
}

// attempt avalia um candidato e, se ele passar nos filtros, tenta reservá-lo.
func (c *Coordinator) attempt(ctx context.Context, number string, req allocationRequest) (domain.Outcome, domain.AllocationResult) {
	rec, err := c.catalog.GetByID(ctx, number)
	switch {
	case errors.Is(err, domain.ErrNumberNotFound):
		c.evictStale(ctx, number, req.areaCode, "")
		return domain.OutcomeSkippedStale, domain.AllocationResult{}
	case err != nil:
		c.logger.Warn("catalog lookup failed", zap.String("number", number), zap.Error(err))
		return domain.OutcomeSkippedError, domain.AllocationResult{}
	case !rec.Active:
		c.evictStale(ctx, number, req.areaCode, rec.AreaCode)
		return domain.OutcomeSkippedStale, domain.AllocationResult{}
	}

	if outcome, ok := c.withinQuota(ctx, rec); !ok {
		return outcome, domain.AllocationResult{}
	}

	now := c.clock.Now()
	if rec.InCooldown(now) {
		return domain.OutcomeSkippedCooldown, domain.AllocationResult{}
	}

	expiresAt := now.Add(c.ttl)
	acquired, err := c.reservations.TryAcquire(ctx, rec.ID, c.ttl, domain.Reservation{
		Agent:       req.agent,
		Campaign:    req.campaign,
		Destination: req.destination,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		c.logger.Warn("reservation attempt failed", zap.String("number", rec.ID), zap.Error(err))
		return domain.OutcomeSkippedError, domain.AllocationResult{}
	}
	if !acquired {
		return domain.OutcomeSkippedRaceLost, domain.AllocationResult{}
	}

	c.commit(ctx, rec, req, now, expiresAt)

	return domain.OutcomeAccepted, domain.AllocationResult{
		Number:    rec.ID,
		AreaCode:  rec.AreaCode,
		Carrier:   rec.Carrier,
		ExpiresAt: expiresAt,
		Limits:    domain.Limits{Daily: rec.DailyLimit, Hourly: rec.HourlyLimit},
	}
}

func (c *Coordinator) withinQuota(ctx context.Context, rec domain.CallerNumber) (domain.Outcome, bool) {
	checks := []struct {
		kind  domain.WindowKind
		limit int
	}{
		{domain.WindowHourly, rec.HourlyLimit},
		{domain.WindowDaily, rec.DailyLimit},
	}
	for _, chk := range checks {
		if chk.limit <= 0 {
			continue
		}
		count, err := c.usage.Peek(ctx, rec.ID, chk.kind)
		if err != nil {
			c.logger.Warn("usage peek failed", zap.String("number", rec.ID), zap.String("window", string(chk.kind)), zap.Error(err))
			return domain.OutcomeSkippedError, false
		}
		if OverLimit(count, chk.limit) {
			return domain.OutcomeSkippedOverQuota, false
		}
	}
	return "", true
}

// commit roda depois que a reserva já é nossa. Nada aqui desfaz a reserva: falhas
// são logadas e engolidas.
func (c *Coordinator) commit(ctx context.Context, rec domain.CallerNumber, req allocationRequest, now, expiresAt time.Time) {
	fields := []zap.Field{
		zap.String("number", rec.ID),
		zap.String("agent", req.agent),
		zap.String("campaign", req.campaign),
	}

	for _, kind := range []domain.WindowKind{domain.WindowHourly, domain.WindowDaily} {
		if _, err := c.usage.Increment(ctx, rec.ID, kind); err != nil {
			c.bestEffortFailed("usage", err, append(fields, zap.String("window", string(kind)))...)
		}
	}
	if err := c.rotation.Touch(ctx, rec.ID, rec.AreaCode); err != nil {
		c.bestEffortFailed("rotation", err, fields...)
	}
	if err := c.catalog.UpdateLastUsed(ctx, rec.ID, now); err != nil {
		c.bestEffortFailed("last_used", err, fields...)
	}
	if c.events != nil {
		ev := domain.AllocationEvent{
			ID:          uuid.NewString(),
			Number:      rec.ID,
			AreaCode:    rec.AreaCode,
			Agent:       req.agent,
			Campaign:    req.campaign,
			Destination: req.destination,
			ReservedAt:  now,
			ExpiresAt:   expiresAt,
		}
		if err := c.events.Emit(ctx, ev); err != nil {
			c.bestEffortFailed("event", err, fields...)
		}
	}
}

func (c *Coordinator) evictStale(ctx context.Context, number, requestArea, recordArea string) {
	if err := c.rotation.Evict(ctx, number, requestArea); err != nil {
		c.bestEffortFailed("evict", err, zap.String("number", number))
		return
	}
	if recordArea != "" && recordArea != requestArea {
		if err := c.rotation.Evict(ctx, number, recordArea); err != nil {
			c.bestEffortFailed("evict", err, zap.String("number", number))
		}
	}
}

func (c *Coordinator) recordStats(ctx context.Context, req allocationRequest, allowed bool, number string) {
	if c.stats == nil {
		return
	}
	err := c.stats.Record(ctx, domain.StatsEvent{
		Campaign: req.campaign,
		Agent:    req.agent,
		Allowed:  allowed,
		Number:   number,
		At:       c.clock.Now(),
	})
	if err != nil {
		c.bestEffortFailed("stats", err, zap.String("campaign", req.campaign), zap.String("agent", req.agent))
	}
}

func (c *Coordinator) bestEffortFailed(step string, err error, fields ...zap.Field) {
	bestEffortFailuresCounter.WithLabelValues(step).Inc()
	c.logger.Warn("best-effort write failed", append(fields, zap.String("step", step), zap.Error(err))...)
}

// unavailable marca err como ErrStoreUnavailable preservando a causa.
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
