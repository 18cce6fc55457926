package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/aggregate"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
	apperrors "github.com/arenawatch/arenawatch/internal/errors"
)

type stubArena struct {
	entities     []core.EntityRecord
	scores       []core.ScoreAggregate
	history      []core.MatchRecord
	historyLimit int
	challengeErr error
	pingErr      error
}

func (s *stubArena) Entities() []core.EntityRecord { return s.entities }

func (s *stubArena) Ping(ctx context.Context, entityID string) (core.EntityRecord, error) {
	if s.pingErr != nil {
		return core.EntityRecord{}, s.pingErr
	}
	return core.EntityRecord{
		EntitySnapshot: core.EntitySnapshot{EntityID: entityID, Status: core.StatusUnknown},
		RateLimited:    true,
	}, nil
}

func (s *stubArena) Scores() []core.ScoreAggregate { return s.scores }

func (s *stubArena) History(limit int) []core.MatchRecord {
	s.historyLimit = limit
	return s.history
}

func (s *stubArena) Challenge(ctx context.Context, challengerID, opponentID string) (core.MatchRecord, error) {
	if s.challengeErr != nil {
		return core.MatchRecord{}, s.challengeErr
	}
	return core.MatchRecord{ID: "m1", Challenger: challengerID, Opponent: opponentID, Winner: challengerID, Loser: opponentID}, nil
}

type stubScheduler struct {
	enabled bool
	forced  []string
}

func (s *stubScheduler) Status() refresh.Status { return refresh.Status{Enabled: s.enabled} }

func (s *stubScheduler) ForceRefresh(topic string) bool {
	if !s.enabled {
		return false
	}
	s.forced = append(s.forced, topic)
	return true
}

func (s *stubScheduler) SetEnabled(enabled bool) { s.enabled = enabled }

type stubLimits struct {
	query    store.RateLimitQuery
	resetAll bool
}

func (s *stubLimits) ListRateLimits(ctx context.Context, q store.RateLimitQuery) ([]store.RateLimitEntry, error) {
	s.query = q
	return []store.RateLimitEntry{{
		Key:   core.GateKey{EntityID: "alpha", Kind: core.FetchKindBulk},
		State: core.GateState{LastAllowedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}}, nil
}

func (s *stubLimits) ResetRateLimits(ctx context.Context, q store.RateLimitQuery) (int64, error) {
	s.query = q
	return 2, nil
}

func (s *stubLimits) ListRateLimitEvents(ctx context.Context, limit int) ([]core.RateLimitEvent, error) {
	return []core.RateLimitEvent{{EntityID: "alpha", Kind: core.FetchKindSingle, Action: core.RateLimitBlocked}}, nil
}

func (s *stubLimits) ResetLimits(ctx context.Context) error {
	s.resetAll = true
	return nil
}

type apiFixture struct {
	arena     *stubArena
	scheduler *stubScheduler
	limits    *stubLimits
	router    chi.Router
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		arena:     &stubArena{},
		scheduler: &stubScheduler{enabled: true},
		limits:    &stubLimits{},
	}
	api := &API{Arena: f.arena, Scheduler: f.scheduler, Limits: f.limits, Resetter: f.limits}
	router := chi.NewRouter()
	router.Route("/api/v1", api.Routes)
	f.router = router
	return f
}

func (f *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestListEntities(t *testing.T) {
	f := newAPIFixture()
	f.arena.entities = []core.EntityRecord{{EntitySnapshot: core.EntitySnapshot{EntityID: "alpha", Status: core.StatusHealthy}}}

	rec := f.do(http.MethodGet, "/api/v1/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entities []struct {
			EntityID string `json:"entity_id"`
			Status   string `json:"status"`
		} `json:"entities"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Entities, 1)
	require.Equal(t, "healthy", body.Entities[0].Status)
}

func TestPingEntityReportsState(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodPost, "/api/v1/entities/alpha/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "rate_limited", body["state"])
	require.Equal(t, true, body["rate_limited"])
}

func TestPingUnknownEntityIsNotFound(t *testing.T) {
	f := newAPIFixture()
	f.arena.pingErr = fmt.Errorf("%w: ghost", aggregate.ErrUnknownEntity)

	rec := f.do(http.MethodPost, "/api/v1/entities/ghost/ping", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Error.Code)
}

func TestHistoryLimit(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodGet, "/api/v1/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, f.arena.historyLimit)

	rec = f.do(http.MethodGet, "/api/v1/history?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChallenge(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodPost, "/api/v1/challenges", `{"challenger":"alpha","opponent":"beta"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var match core.MatchRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&match))
	require.Equal(t, "alpha", match.Winner)
}

func TestCreateChallengeValidation(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodPost, "/api/v1/challenges", `{"challenger":"alpha"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/challenges", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChallengeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"timeout", fmt.Errorf("%w: alpha vs beta after 8s", core.ErrChallengeTimeout), http.StatusGatewayTimeout, apperrors.CodeTimeout},
		{"circuit breaker", &core.CircuitBreakerError{EntityID: "alpha", Message: "open"}, http.StatusServiceUnavailable, apperrors.CodeCircuitOpen},
		{"self challenge", aggregate.ErrSelfChallenge, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"invalid outcome", core.ErrInvalidOutcome, http.StatusBadGateway, apperrors.CodeExternalService},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture()
			f.arena.challengeErr = tc.err

			rec := f.do(http.MethodPost, "/api/v1/challenges", `{"challenger":"alpha","opponent":"beta"}`)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decodeError(t, rec).Error.Code)
		})
	}
}

func TestRefreshEndpoints(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodPost, "/api/v1/refresh/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"entities"}, f.scheduler.forced)
	var forced struct {
		Topic  string         `json:"topic"`
		Forced bool           `json:"forced"`
		Status refresh.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forced))
	require.Equal(t, "entities", forced.Topic)
	require.True(t, forced.Forced)
	require.True(t, forced.Status.Enabled)

	rec = f.do(http.MethodPut, "/api/v1/refresh/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, f.scheduler.enabled)

	rec = f.do(http.MethodPost, "/api/v1/refresh/entities", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/refresh/enabled", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status refresh.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.False(t, status.Enabled)
}

func TestRateLimitEndpoints(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(http.MethodGet, "/api/v1/rate-limits?entity=alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alpha", f.limits.query.EntityID)
	require.False(t, f.limits.query.All)
	require.Contains(t, rec.Body.String(), `"key":"alpha-bulk"`)

	rec = f.do(http.MethodDelete, "/api/v1/rate-limits?kind=single", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":2`)
	require.False(t, f.limits.resetAll)

	rec = f.do(http.MethodDelete, "/api/v1/rate-limits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.limits.resetAll)

	rec = f.do(http.MethodGet, "/api/v1/rate-limits/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"action":"blocked"`)
}
