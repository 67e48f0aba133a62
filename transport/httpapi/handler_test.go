package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callerid-gateway/callerid/application"
	"callerid-gateway/callerid/domain"
	"callerid-gateway/callerid/infra"
	"callerid-gateway/clock"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	co      *application.Coordinator
	stats   *infra.MemoryStatsStore
	clk     *clock.Manual
	handler http.Handler
}

func newTestServer(t *testing.T, cfg RouterConfig, coOpts ...application.Option) *testServer {
	t.Helper()
	clk := clock.NewManual(t0)
	stats := infra.NewMemoryStatsStore()
	opts := append([]application.Option{
		application.WithClock(clk),
		application.WithStats(stats),
		application.WithNumberDefaults(application.NumberDefaults{}),
	}, coOpts...)
	co := application.NewCoordinator(
		infra.NewMemoryCatalog(),
		infra.NewMemoryStore(infra.WithMemoryClock(clk)),
		opts...,
	)
	h := NewHandler(co, WithClock(clk), WithStatsReader(stats))
	return &testServer{co: co, stats: stats, clk: clk, handler: NewRouter(h, cfg)}
}

func (s *testServer) add(t *testing.T, id string) {
	t.Helper()
	_, err := s.co.AddNumber(context.Background(), domain.NumberSpec{ID: id})
	require.NoError(t, err)
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNextCallerID_Success(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")

	w := s.do(http.MethodGet, "/next-cid?to=(212)555-1234&campaign=CampaignX&agent=Agent1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2125550001", body["caller_id"])
	assert.Equal(t, "212", body["area_code"])
	assert.Equal(t, float64(300), body["reserved_for"])
	assert.Equal(t, "(212)555-1234", body["destination"])
	assert.Equal(t, "Agent1", body["agent"])
	assert.Equal(t, "CampaignX", body["campaign"])
}

func TestNextCallerID_NoAvailableNumberIs503(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)

	w := s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no_available_number", body["error"])
}

func TestNextCallerID_BadInputIs400(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")

	cases := map[string]string{
		"/next-cid?to=12345&campaign=C&agent=A":         "invalid_destination",
		"/next-cid?to=2125551234&campaign=C":            "invalid_request",
		"/next-cid?to=2125551234&agent=A":               "invalid_request",
		"/next-cid?to=&campaign=C&agent=A":              "invalid_destination",
		"/next-cid?to=abcdefghijklm&campaign=C&agent=A": "invalid_destination",
	}
	for target, code := range cases {
		w := s.do(http.MethodGet, target, "")
		require.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, code, decode(t, w)["error"], target)
	}
}

func TestNextCallerID_AgentRateLimitIs429WithRetryAfter(t *testing.T) {
	s := newTestServer(t, RouterConfig{}, application.WithAgentRateLimit(1))
	s.add(t, "2125550001")
	s.add(t, "2125550002")

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)

	w := s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, w)["error"])

	s.clk.Advance(61 * time.Second)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)
}

func TestNextCallerID_ClientGuardRunsBeforeEngine(t *testing.T) {
	s := newTestServer(t, RouterConfig{ClientLimiter: NewClientLimiterStore(1.2, 1)})
	s.add(t, "2125550001")
	s.add(t, "2125550002")

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)

	w := s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=B", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "client_rate_limited", decode(t, w)["error"])

	// a guarda não vale para as rotas administrativas
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/stats", "").Code)
}

func TestAddNumber_JSONBody(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(http.MethodPost, "/add-number", `{"caller_id":"2125550001","carrier":"Verizon","hourly_limit":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Caller-ID 2125550001 added successfully", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "2125550001", data["caller_id"])
	assert.Equal(t, "Verizon", data["carrier"])
	assert.Equal(t, "212", data["area_code"])
	assert.Equal(t, float64(10), data["hourly_limit"])
	assert.Equal(t, true, data["active"])

	dup := s.do(http.MethodPost, "/add-number", `{"caller_id":"2125550001"}`)
	require.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "already_exists", decode(t, dup)["error"])
}

func TestAddNumber_QueryParams(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(http.MethodPost, "/add-number?caller_id=3105550001&carrier=ATT&area_code=310&daily_limit=500&hourly_limit=50", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "3105550001", data["caller_id"])
	assert.Equal(t, float64(500), data["daily_limit"])
	assert.Equal(t, float64(50), data["hourly_limit"])

	bad := s.do(http.MethodPost, "/add-number?caller_id=3105550002&daily_limit=lots", "")
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAddNumber_Validation(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	cases := []string{
		`{"caller_id":"123"}`,
		`{"carrier":"ATT"}`,
		`{"caller_id":"2125550001","hourly_limit":-1}`,
		`{"caller_id":"2125550001","area_code":"ab"}`,
		`{"caller_id":"2125550001","unknown":true}`,
		`not json`,
	}
	for _, body := range cases {
		w := s.do(http.MethodPost, "/add-number", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_request", decode(t, w)["error"], body)
	}
}

func TestReservationEndpoints(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")

	w := s.do(http.MethodGet, "/api/reservation/2125550001", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)

	w = s.do(http.MethodGet, "/api/reservation/2125550001", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, "A", res["agent"])
	assert.Equal(t, "2125551234", res["destination"])

	w = s.do(http.MethodDelete, "/api/reservation/2125550001", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["released_from_redis"])
	assert.Equal(t, "Reservation released for 2125550001", body["message"])

	w = s.do(http.MethodDelete, "/api/reservation/2125550001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["released_from_redis"])

	// liberado, o número volta a ser alocável
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)
}

func TestDeactivateNumber(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")

	w := s.do(http.MethodPost, "/api/caller-ids/2125550001/deactivate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["data"].(map[string]any)["active"])

	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/caller-ids/9999999999/deactivate", "").Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")
	s.add(t, "3105550001")
	_, err := s.co.DeactivateNumber(context.Background(), "3105550001")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=CampaignX&agent=A", "").Code)

	w := s.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total_caller_ids"])
	assert.Equal(t, float64(1), body["active_caller_ids"])
	assert.Equal(t, float64(1), body["active_reservations"])
	assert.Equal(t, t0.Format(time.RFC3339), body["timestamp"])

	campaigns := body["campaigns"].([]any)
	require.Len(t, campaigns, 1)
	c := campaigns[0].(map[string]any)
	assert.Equal(t, "CampaignX", c["campaign"])
	assert.Equal(t, float64(1), c["total_calls"])
}

type fixedMinute struct {
	at              time.Time
	allowed, denied int64
	err             error
}

func (m *fixedMinute) Minute(_ context.Context, at time.Time) (int64, int64, error) {
	m.at = at
	return m.allowed, m.denied, m.err
}

func TestStats_CurrentMinuteCounters(t *testing.T) {
	minutes := &fixedMinute{allowed: 7, denied: 2}
	co := application.NewCoordinator(infra.NewMemoryCatalog(), infra.NewMemoryStore())
	router := NewRouter(NewHandler(co, WithClock(clock.NewManual(t0)), WithMinuteCounter(minutes)), RouterConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, t0, minutes.at)
	assert.Equal(t, map[string]any{"allowed": float64(7), "denied": float64(2)}, decode(t, w)["current_minute"])

	minutes.err = errors.New("redis down")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "current_minute")
}

type fakeHistory struct {
	callerID string
	limit    int
	events   []domain.AllocationEvent
	err      error
}

func (f *fakeHistory) Recent(_ context.Context, callerID string, limit int) ([]domain.AllocationEvent, error) {
	f.callerID, f.limit = callerID, limit
	return f.events, f.err
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{events: []domain.AllocationEvent{{ID: "ev-1", Number: "2125550001", Agent: "A", ReservedAt: t0}}}
	router := NewRouter(NewHandler(stubEngine{}, WithHistory(hist)), RouterConfig{})
	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := get("/api/caller-ids/(212)555-0001/history")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2125550001", hist.callerID)
	assert.Equal(t, recentLimit, hist.limit)
	body := decode(t, w)
	assert.Equal(t, "2125550001", body["caller_id"])
	require.Len(t, body["data"], 1)

	require.Equal(t, http.StatusOK, get("/api/caller-ids/2125550001/history?limit=5").Code)
	assert.Equal(t, 5, hist.limit)

	for _, target := range []string{
		"/api/caller-ids/2125550001/history?limit=0",
		"/api/caller-ids/2125550001/history?limit=x",
		"/api/caller-ids/2125550001/history?limit=501",
	} {
		w := get(target)
		require.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "invalid_request", decode(t, w)["error"], target)
	}

	hist.err = errors.New("connection refused")
	w = get("/api/caller-ids/2125550001/history")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "store_unavailable", decode(t, w)["error"])
}

func TestHistory_DisabledWithoutReader(t *testing.T) {
	router := NewRouter(NewHandler(stubEngine{}), RouterConfig{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/caller-ids/2125550001/history", nil))
	require.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "history_disabled", decode(t, w)["error"])
}

func TestSyncRotation(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.add(t, "2125550001")
	s.add(t, "2125550002")
	ctx := context.Background()
	require.NoError(t, s.co.Rotation().Evict(ctx, "2125550001", "212"))

	w := s.do(http.MethodPost, "/api/rotation/sync", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["active_numbers"])
	size, err := s.co.Rotation().Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	router := NewRouter(NewHandler(stubEngine{err: fmt.Errorf("list: %w", domain.ErrStoreUnavailable)}), RouterConfig{})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rotation/sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNextCallerID_RateLimitRemainingOnlyWithAgentLimiter(t *testing.T) {
	off := newTestServer(t, RouterConfig{})
	off.add(t, "2125550001")
	w := off.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "rate_limit_remaining")

	on := newTestServer(t, RouterConfig{}, application.WithAgentRateLimit(3))
	on.add(t, "2125550001")
	w = on.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["rate_limit_remaining"])
}

func TestHealth(t *testing.T) {
	co := application.NewCoordinator(infra.NewMemoryCatalog(), infra.NewMemoryStore())

	ok := NewRouter(NewHandler(co, WithHealthCheck("redis", func(context.Context) error { return nil })), RouterConfig{})
	w := httptest.NewRecorder()
	ok.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	down := NewRouter(NewHandler(co,
		WithHealthCheck("redis", func(context.Context) error { return nil }),
		WithHealthCheck("postgres", func(context.Context) error { return errors.New("connection refused") }),
	), RouterConfig{})
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "connection refused", checks["postgres"])
}

func TestIndexAndMetrics(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	w := s.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode(t, w)["status"])

	s.do(http.MethodGet, "/health", "")
	m := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "callerid_http_responses_total")
}

func TestAdminGuardProtectsAdminRoutesOnly(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Admin-Token") != "secret" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	s := newTestServer(t, RouterConfig{AdminGuard: deny})
	s.add(t, "2125550001")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/add-number", `{"caller_id":"2125550002"}`).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", "").Code)
}

// stubEngine devolve sempre o mesmo erro.
type stubEngine struct{ err error }

func (e stubEngine) Allocate(context.Context, string, string, string) (domain.AllocationResult, error) {
	return domain.AllocationResult{}, e.err
}
func (e stubEngine) AddNumber(context.Context, domain.NumberSpec) (domain.CallerNumber, error) {
	return domain.CallerNumber{}, e.err
}
func (e stubEngine) ReleaseReservation(context.Context, string) (bool, error) { return false, e.err }
func (e stubEngine) Reservation(context.Context, string) (*domain.Reservation, error) {
	return nil, e.err
}
func (e stubEngine) DeactivateNumber(context.Context, string) (domain.CallerNumber, error) {
	return domain.CallerNumber{}, e.err
}
func (e stubEngine) SyncRotation(context.Context) (int, error) { return 0, e.err }
func (e stubEngine) Snapshot(context.Context) (domain.Snapshot, error) {
	return domain.Snapshot{}, e.err
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{fmt.Errorf("redis set: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable, "store_unavailable", ""},
		{domain.ErrNoAvailableNumber, http.StatusServiceUnavailable, "no_available_number", ""},
		{&domain.RateLimitError{Agent: "A", RetryAfter: 2500 * time.Millisecond}, http.StatusTooManyRequests, "rate_limited", "3"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "1"},
		{domain.ErrNumberNotFound, http.StatusNotFound, "not_found", ""},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout", ""},
		{errors.New("boom"), http.StatusInternalServerError, "internal", ""},
	}
	for _, tc := range cases {
		router := NewRouter(NewHandler(stubEngine{err: tc.err}), RouterConfig{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/next-cid?to=2125551234&campaign=C&agent=A", nil))

		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.code, decode(t, w)["error"], tc.err.Error())
		assert.Equal(t, tc.retryAfter, w.Header().Get("Retry-After"), tc.err.Error())
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abc", sanitize("  abc  ", 10))
	assert.Equal(t, "12345", sanitize("1234567890", 5))
	assert.Equal(t, "", sanitize("   ", 5))
}
