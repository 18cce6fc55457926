package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/aggregate"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
	apperrors "github.com/arenawatch/arenawatch/internal/errors"
	"github.com/arenawatch/arenawatch/internal/observability"
)

const maxRequestBody = 64 << 10

// Arena is the aggregator surface used by the API.
type Arena interface {
	Entities() []core.EntityRecord
	Ping(ctx context.Context, entityID string) (core.EntityRecord, error)
	Scores() []core.ScoreAggregate
	History(limit int) []core.MatchRecord
	Challenge(ctx context.Context, challengerID, opponentID string) (core.MatchRecord, error)
}

// Scheduler is the refresh coordinator surface used by the API.
type Scheduler interface {
	Status() refresh.Status
	ForceRefresh(topic string) bool
	SetEnabled(enabled bool)
}

// RateLimitAdmin lists and resets stored gate state.
type RateLimitAdmin interface {
	ListRateLimits(ctx context.Context, q store.RateLimitQuery) ([]store.RateLimitEntry, error)
	ResetRateLimits(ctx context.Context, q store.RateLimitQuery) (int64, error)
	ListRateLimitEvents(ctx context.Context, limit int) ([]core.RateLimitEvent, error)
}

// LimitResetter clears every gate and the event log.
type LimitResetter interface {
	ResetLimits(ctx context.Context) error
}

// API serves the /api/v1 endpoints.
type API struct {
	Arena     Arena
	Scheduler Scheduler
	Limits    RateLimitAdmin
	Resetter  LimitResetter
	Logger    observability.Logger
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/entities", a.ListEntities)
	r.Post("/entities/{id}/ping", a.PingEntity)
	r.Get("/scores", a.ListScores)
	r.Get("/history", a.ListHistory)
	r.Post("/challenges", a.CreateChallenge)
	r.Get("/refresh", a.RefreshStatus)
	r.Put("/refresh/enabled", a.SetRefreshEnabled)
	r.Post("/refresh/{topic}", a.ForceRefresh)
	r.Get("/rate-limits", a.ListRateLimits)
	r.Delete("/rate-limits", a.ResetRateLimits)
	r.Get("/rate-limits/events", a.ListRateLimitEvents)
}

type entitiesResponse struct {
	Entities []core.EntityRecord `json:"entities"`
}

type entityResponse struct {
	core.EntityRecord
	State core.Status `json:"state"`
}

// ListEntities returns the published entity records.
func (a *API) ListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entitiesResponse{Entities: a.Arena.Entities()})
}

// PingEntity runs a single-kind fetch for one entity.
func (a *API) PingEntity(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	record, err := a.Arena.Ping(r.Context(), id)
	if err != nil {
		apperrors.RespondWithError(w, r, classify(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, entityResponse{EntityRecord: record, State: record.State()})
}

// ListScores returns the score aggregates.
func (a *API) ListScores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scores": a.Arena.Scores()})
}

// ListHistory returns match history, newest first.
func (a *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "limit must be a non-negative integer"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": a.Arena.History(limit)})
}

type challengeRequest struct {
	Challenger string `json:"challenger"`
	Opponent   string `json:"opponent"`
}

// CreateChallenge runs a challenge between two entities.
func (a *API) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid challenge request"))
		return
	}
	req.Challenger = strings.TrimSpace(req.Challenger)
	req.Opponent = strings.TrimSpace(req.Opponent)
	if req.Challenger == "" || req.Opponent == "" {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("challenger and opponent are required"))
		return
	}

	match, err := a.Arena.Challenge(r.Context(), req.Challenger, req.Opponent)
	if err != nil {
		observability.OrNop(a.Logger).Info("Challenge failed",
			zap.String("challenger", req.Challenger),
			zap.String("opponent", req.Opponent),
			zap.Error(err))
		apperrors.RespondWithError(w, r, classify(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusCreated, match)
}

// RefreshStatus returns the coordinator status.
func (a *API) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Scheduler.Status())
}

// ForceRefresh runs a topic's subscribers before responding, so the returned
// status already reflects the completed cycle.
func (a *API) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(chi.URLParam(r, "topic"))
	if !a.Scheduler.ForceRefresh(topic) {
		envelope := errors.NewErrorEnvelope(apperrors.CodeConflict, "refresh not started: scheduling disabled or topic has no subscribers")
		envelope = envelope.WithDetails(map[string]interface{}{"topic": topic})
		apperrors.RespondWithError(w, r, envelope)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "forced": true, "status": a.Scheduler.Status()})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetRefreshEnabled toggles scheduling.
func (a *API) SetRefreshEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid request body"))
		return
	}
	if req.Enabled == nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("enabled is required"))
		return
	}
	a.Scheduler.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, a.Scheduler.Status())
}

type rateLimitView struct {
	Key           string         `json:"key"`
	EntityID      string         `json:"entity_id"`
	Kind          core.FetchKind `json:"kind"`
	LastAllowedAt string         `json:"last_allowed_at"`
}

// ListRateLimits lists stored gate state, filtered by ?entity= and ?kind=.
func (a *API) ListRateLimits(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Limits.ListRateLimits(r.Context(), rateLimitQuery(r))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list rate limits"))
		return
	}

	views := make([]rateLimitView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, rateLimitView{
			Key:           entry.Key.String(),
			EntityID:      entry.Key.EntityID,
			Kind:          entry.Key.Kind,
			LastAllowedAt: entry.State.LastAllowedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate_limits": views})
}

// ResetRateLimits clears gate state. Without filters every gate and the
// event log are cleared.
func (a *API) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	q := rateLimitQuery(r)
	if q.All {
		if err := a.Resetter.ResetLimits(r.Context()); err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to reset rate limits"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reset": "all"})
		return
	}

	removed, err := a.Limits.ResetRateLimits(r.Context(), q)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to reset rate limits"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// ListRateLimitEvents returns the gate decision log, newest first.
func (a *API) ListRateLimitEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "limit must be a non-negative integer"))
		return
	}
	events, err := a.Limits.ListRateLimitEvents(r.Context(), limit)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list rate limit events"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// classify maps domain errors onto API error codes.
func classify(ctx context.Context, err error) *errors.ErrorEnvelope {
	var breaker *core.CircuitBreakerError
	switch {
	case stderrors.Is(err, aggregate.ErrUnknownEntity):
		return apperrors.WrapNotFound(ctx, err, err.Error())
	case stderrors.Is(err, aggregate.ErrSelfChallenge):
		return apperrors.WrapInvalidInput(ctx, err, err.Error())
	case stderrors.Is(err, core.ErrChallengeTimeout):
		return apperrors.WrapTimeout(ctx, err, "challenge timed out")
	case stderrors.As(err, &breaker):
		return apperrors.WrapCircuitOpen(ctx, err, breaker.Error())
	case stderrors.Is(err, core.ErrInvalidOutcome):
		return apperrors.WrapExternalService(ctx, err, "entity returned an invalid challenge result")
	default:
		return apperrors.WrapExternalService(ctx, err, "entity request failed")
	}
}

func rateLimitQuery(r *http.Request) store.RateLimitQuery {
	q := store.RateLimitQuery{
		EntityID: strings.TrimSpace(r.URL.Query().Get("entity")),
		Kind:     strings.TrimSpace(r.URL.Query().Get("kind")),
	}
	q.All = q.EntityID == "" && q.Kind == ""
	return q
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, stderrors.New(name + " must not be negative")
	}
	return value, nil
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if stderrors.Is(err, io.EOF) {
			return stderrors.New("request body is required")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
