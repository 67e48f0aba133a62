// Package httpapi expõe o motor de alocação via HTTP (chi).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"callerid-gateway/callerid/application"
	"callerid-gateway/callerid/domain"
	"callerid-gateway/clock"
)

const (
	maxDestinationLen = 20
	maxLabelLen       = 100
	recentLimit       = 50
	maxHistoryLimit   = 500
)

// Engine é o que o transporte usa do Coordinator.
type Engine interface {
	Allocate(ctx context.Context, destination, campaign, agent string) (domain.AllocationResult, error)
	AddNumber(ctx context.Context, spec domain.NumberSpec) (domain.CallerNumber, error)
	ReleaseReservation(ctx context.Context, number string) (bool, error)
	Reservation(ctx context.Context, number string) (*domain.Reservation, error)
	DeactivateNumber(ctx context.Context, number string) (domain.CallerNumber, error)
	SyncRotation(ctx context.Context) (int, error)
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// RecentLog lê as últimas alocações (lista Redis).
type RecentLog interface {
	Recent(ctx context.Context, n int) ([]domain.AllocationEvent, error)
}

// MinuteCounter devolve allowed/denied do minuto que contém at.
type MinuteCounter interface {
	Minute(ctx context.Context, at time.Time) (allowed, denied int64, err error)
}

// HistoryReader lista o histórico de alocações persistido de um número.
type HistoryReader interface {
	Recent(ctx context.Context, callerID string, limit int) ([]domain.AllocationEvent, error)
}

// HealthCheck devolve erro quando a dependência não responde.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	engine   Engine
	stats    domain.StatsReader
	recent   RecentLog
	minutes  MinuteCounter
	history  HistoryReader
	checks   map[string]HealthCheck
	logger   *zap.Logger
	validate *validator.Validate
	clock    clock.Clock
}

type HandlerOption func(*Handler)

func WithStatsReader(s domain.StatsReader) HandlerOption {
	return func(h *Handler) { h.stats = s }
}

func WithRecentLog(l RecentLog) HandlerOption {
	return func(h *Handler) { h.recent = l }
}

func WithMinuteCounter(m MinuteCounter) HandlerOption {
	return func(h *Handler) { h.minutes = m }
}

// WithHistory liga GET /api/caller-ids/{caller_id}/history.
func WithHistory(r HistoryReader) HandlerOption {
	return func(h *Handler) { h.history = r }
}

func WithHealthCheck(name string, fn HealthCheck) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.checks[name] = fn
		}
	}
}

func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock injeta o relógio usado em reserved_for e timestamps.
func WithClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

func NewHandler(engine Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:   engine,
		checks:   make(map[string]HealthCheck),
		logger:   zap.NewNop(),
		validate: validator.New(),
		clock:    clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type allocationResponse struct {
	Success bool `json:"success"`
	domain.AllocationResult
	ReservedFor int    `json:"reserved_for"`
	Destination string `json:"destination"`
	Agent       string `json:"agent"`
	Campaign    string `json:"campaign"`
}

// NextCallerID atende GET /next-cid?to=&campaign=&agent=.
func (h *Handler) NextCallerID(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := sanitize(q.Get("to"), maxDestinationLen)
	campaign := sanitize(q.Get("campaign"), maxLabelLen)
	agent := sanitize(q.Get("agent"), maxLabelLen)

	res, err := h.engine.Allocate(r.Context(), to, campaign, agent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("caller id allocated",
		zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		zap.String("number", res.Number),
		zap.String("agent", agent),
		zap.String("campaign", campaign),
	)
	writeJSON(w, http.StatusOK, allocationResponse{
		Success:          true,
		AllocationResult: res,
		ReservedFor:      retryAfterSeconds(res.ExpiresAt.Sub(h.clock.Now())),
		Destination:      to,
		Agent:            agent,
		Campaign:         campaign,
	})
}

// AddNumber atende POST /add-number. Aceita JSON no corpo ou, como o discador
// legado, os campos em query string.
func (h *Handler) AddNumber(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeNumberSpec(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.validate.StructCtx(r.Context(), spec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "validation failed: " + err.Error()})
		return
	}

	n, err := h.engine.AddNumber(r.Context(), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Caller-ID %s added successfully", n.ID),
		"data":    n,
	})
}

// ReleaseReservation atende DELETE /api/reservation/{caller_id}.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "caller_id")
	released, err := h.engine.ReleaseReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"message":             "Reservation released for " + id,
		"released_from_redis": released,
	})
}

// GetReservation atende GET /api/reservation/{caller_id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "caller_id")
	res, err := h.engine.Reservation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no active reservation for " + id})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeactivateNumber atende POST /api/caller-ids/{caller_id}/deactivate.
func (h *Handler) DeactivateNumber(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.DeactivateNumber(r.Context(), chi.URLParam(r, "caller_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": n})
}

type minuteCounts struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

type statsResponse struct {
	TotalCallerIDs     int                      `json:"total_caller_ids"`
	ActiveCallerIDs    int                      `json:"active_caller_ids"`
	ActiveReservations int                      `json:"active_reservations"`
	Timestamp          time.Time                `json:"timestamp"`
	Snapshot           domain.Snapshot          `json:"snapshot"`
	Campaigns          []domain.CampaignStats   `json:"campaigns,omitempty"`
	Recent             []domain.AllocationEvent `json:"recent,omitempty"`
	CurrentMinute      *minuteCounts            `json:"current_minute,omitempty"`
}

// Stats atende GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.engine.Snapshot(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := statsResponse{
		TotalCallerIDs:     len(snap.Numbers),
		ActiveReservations: len(snap.Reservations),
		Timestamp:          h.clock.Now(),
		Snapshot:           snap,
	}
	for _, n := range snap.Numbers {
		if n.Active {
			out.ActiveCallerIDs++
		}
	}
	if h.stats != nil {
		if out.Campaigns, err = h.stats.Campaigns(ctx); err != nil {
			h.logger.Warn("campaign stats unavailable", zap.Error(err))
		}
	}
	if h.recent != nil {
		if out.Recent, err = h.recent.Recent(ctx, recentLimit); err != nil {
			h.logger.Warn("recent allocations unavailable", zap.Error(err))
		}
	}
	if h.minutes != nil {
		allowed, denied, err := h.minutes.Minute(ctx, out.Timestamp)
		if err != nil {
			h.logger.Warn("minute counters unavailable", zap.Error(err))
		} else {
			out.CurrentMinute = &minuteCounts{Allowed: allowed, Denied: denied}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// History atende GET /api/caller-ids/{caller_id}/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "history_disabled", Message: "allocation history requires the postgres catalog"})
		return
	}
	id := application.NormalizeDigits(chi.URLParam(r, "caller_id"))
	if id == "" {
		h.writeError(w, r, domain.ErrInvalidRequest)
		return
	}
	limit := recentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)})
			return
		}
		limit = n
	}

	events, err := h.history.Recent(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("allocation history unavailable", zap.String("caller_id", id), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Message: "dependent store unavailable"})
		return
	}
	if events == nil {
		events = []domain.AllocationEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "caller_id": id, "data": events})
}

// SyncRotation atende POST /api/rotation/sync: refaz a membresia da rotação a partir do catálogo.
func (h *Handler) SyncRotation(w http.ResponseWriter, r *http.Request) {
	synced, err := h.engine.SyncRotation(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("rotation synced", zap.Int("active", synced))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "active_numbers": synced})
}

// Health atende GET /health: 200 se todas as dependências responderem.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": h.clock.Now(),
	})
}

// writeError mapeia a taxonomia de erros do motor para status HTTP.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", formatInt(retryAfterSeconds(rl.RetryAfter)))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: err.Error()})
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidDestination):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_destination", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, domain.ErrNumberAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_exists", Message: err.Error()})
	case errors.Is(err, domain.ErrNumberNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrNoAvailableNumber):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no_available_number", Message: "No available caller-IDs at this time"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error("dependent store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Message: "dependent store unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "timeout", Message: err.Error()})
	default:
		h.logger.Error("unexpected error", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "Internal server error"})
	}
}

func decodeNumberSpec(w http.ResponseWriter, r *http.Request) (domain.NumberSpec, error) {
	q := r.URL.Query()
	if q.Get("caller_id") != "" {
		spec := domain.NumberSpec{
			ID:       sanitize(q.Get("caller_id"), maxDestinationLen),
			Carrier:  sanitize(q.Get("carrier"), maxLabelLen),
			AreaCode: sanitize(q.Get("area_code"), 10),
		}
		for field, dst := range map[string]**int{
			"daily_limit":      &spec.DailyLimit,
			"hourly_limit":     &spec.HourlyLimit,
			"cooldown_seconds": &spec.CooldownSeconds,
		} {
			raw := strings.TrimSpace(q.Get(field))
			if raw == "" {
				continue
			}
			v, err := strconv.Atoi(raw)
			if err != nil {
				return domain.NumberSpec{}, fmt.Errorf("%s must be an integer", field)
			}
			*dst = &v
		}
		return spec, nil
	}

	var spec domain.NumberSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return domain.NumberSpec{}, fmt.Errorf("invalid request body: %w", err)
	}
	return spec, nil
}

// sanitize corta espaços e limita o tamanho do valor.
func sanitize(v string, max int) string {
	v = strings.TrimSpace(v)
	if len(v) > max {
		v = v[:max]
	}
	return v
}
