package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceVersion = "1.0.0"

// RouterConfig agrupa as proteções do roteador. Campos zerados desligam a proteção.
type RouterConfig struct {
	// ClientLimiter limita /next-cid por cliente (nil desliga).
	ClientLimiter *ClientLimiterStore
	ClientKey     KeyFunc

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	// AdminGuard protege as rotas administrativas (nil = abertas).
	AdminGuard func(http.Handler) http.Handler

	Logger *zap.Logger
}

// NewRouter monta as rotas do gateway.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/", index)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ConcurrencyLimit(cfg.ConcurrencyMax, cfg.ConcurrencyTimeout))
		r.Use(ClientRateLimit(cfg.ClientLimiter, cfg.ClientKey))
		r.Get("/next-cid", h.NextCallerID)
	})

	r.Group(func(r chi.Router) {
		if cfg.AdminGuard != nil {
			r.Use(cfg.AdminGuard)
		}
		r.Post("/add-number", h.AddNumber)
		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", h.Stats)
			r.Get("/reservation/{caller_id}", h.GetReservation)
			r.Delete("/reservation/{caller_id}", h.ReleaseReservation)
			r.Post("/caller-ids/{caller_id}/deactivate", h.DeactivateNumber)
			r.Get("/caller-ids/{caller_id}/history", h.History)
			r.Post("/rotation/sync", h.SyncRotation)
		})
	})

	return r
}

// accessLog loga cada requisição e alimenta o contador por rota/status.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			responsesCounter.WithLabelValues(route, strconv.Itoa(status)).Inc()

			logger.Debug("http request",
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Caller-ID Rotation API",
		"version": serviceVersion,
		"status":  "running",
		"endpoints": map[string]string{
			"next_cid":      "GET /next-cid?to=NUMBER&campaign=NAME&agent=NAME",
			"add_number":    "POST /add-number",
			"stats":         "GET /api/stats",
			"reservation":   "GET|DELETE /api/reservation/{caller_id}",
			"deactivate":    "POST /api/caller-ids/{caller_id}/deactivate",
			"history":       "GET /api/caller-ids/{caller_id}/history?limit=N",
			"rotation_sync": "POST /api/rotation/sync",
			"health":        "GET /health",
			"metrics":       "GET /metrics",
		},
	})
}
