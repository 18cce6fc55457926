// Package remote talks to entity services over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/observability"
)

// RequestIDHeader carries the correlation id on outbound requests.
const RequestIDHeader = observability.RequestIDHeader

const maxBodyBytes = 1 << 20

// Client implements engine.EntitySource against entity HTTP endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     observability.Logger

	entities map[string]core.EntityConfig
}

// NewClient builds a client for the given roster. rps <= 0 disables pacing.
func NewClient(baseURL string, entities []core.EntityConfig, rps float64, burst int) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		entities:   make(map[string]core.EntityConfig, len(entities)),
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	for _, entity := range entities {
		c.entities[entity.ID] = entity
	}
	return c
}

type pingResponse struct {
	Player    string `json:"player"`
	Status    string `json:"status"`
	LatencyMs *int   `json:"latencyMs"`
	Error     string `json:"error"`
}

type challengeRequest struct {
	OpponentURL string `json:"opponentUrl"`
}

type challengeResponse struct {
	Winner         string `json:"winner"`
	Loser          string `json:"loser"`
	DurationMs     int    `json:"durationMs"`
	Error          string `json:"error"`
	CircuitBreaker bool   `json:"circuitBreaker"`
}

// FetchEntityStatus pings one entity.
func (c *Client) FetchEntityStatus(ctx context.Context, entityID string) (core.EntitySnapshot, error) {
	entity := c.entity(entityID)
	started := time.Now()

	resp, err := c.do(ctx, http.MethodGet, c.entityURL(entity)+"/ping", nil)
	if err != nil {
		return core.EntitySnapshot{}, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	var body pingResponse
	if err := decodeBody(resp, &body); err != nil {
		return core.EntitySnapshot{}, fmt.Errorf("ping %s: %w", entityID, err)
	}

	if resp.StatusCode != http.StatusOK {
		message := body.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return core.EntitySnapshot{}, fmt.Errorf("ping %s: status %d: %s", entityID, resp.StatusCode, message)
	}

	snapshot := core.EntitySnapshot{
		EntityID: entityID,
		Name:     entity.DisplayName(),
		Status:   pingStatus(body.Status),
		Error:    body.Error,
	}
	latency := int(time.Since(started).Milliseconds())
	if body.LatencyMs != nil {
		latency = *body.LatencyMs
	}
	snapshot.LatencyMs = &latency
	return snapshot, nil
}

// FetchChallengeResult asks the challenger to play the opponent.
func (c *Client) FetchChallengeResult(ctx context.Context, challengerID, opponentID string) (core.ChallengeOutcome, error) {
	challenger := c.entity(challengerID)
	opponent := c.entity(opponentID)

	payload, err := json.Marshal(challengeRequest{OpponentURL: c.challengeURL(opponent)})
	if err != nil {
		return core.ChallengeOutcome{}, fmt.Errorf("encode challenge: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.entityURL(challenger)+"/challenge", payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ChallengeOutcome{}, fmt.Errorf("%w: %v", core.ErrChallengeTimeout, err)
		}
		return core.ChallengeOutcome{}, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	var body challengeResponse
	if err := decodeBody(resp, &body); err != nil {
		return core.ChallengeOutcome{}, fmt.Errorf("challenge %s vs %s: %w", challengerID, opponentID, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable && body.CircuitBreaker:
		message := body.Error
		if message == "" {
			message = "service unavailable"
		}
		return core.ChallengeOutcome{}, &core.CircuitBreakerError{EntityID: challengerID, Message: message}
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return core.ChallengeOutcome{}, fmt.Errorf("%w: upstream status %d", core.ErrChallengeTimeout, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		message := body.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return core.ChallengeOutcome{}, fmt.Errorf("challenge %s vs %s: status %d: %s", challengerID, opponentID, resp.StatusCode, message)
	}

	return core.ChallengeOutcome{
		Winner:     body.Winner,
		Loser:      body.Loser,
		DurationMs: body.DurationMs,
	}, nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("outbound pacing: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := observability.RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, requestID)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		observability.OrNop(c.Logger).Debug("Entity request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *Client) entity(id string) core.EntityConfig {
	if entity, ok := c.entities[id]; ok {
		return entity
	}
	return core.EntityConfig{ID: id}
}

func (c *Client) entityURL(entity core.EntityConfig) string {
	if url := strings.TrimRight(strings.TrimSpace(entity.URL), "/"); url != "" {
		return url
	}
	return c.BaseURL + "/" + entity.ID
}

// challengeURL is the address the challenger uses to reach the opponent.
func (c *Client) challengeURL(entity core.EntityConfig) string {
	if url := strings.TrimSpace(entity.ChallengeURL); url != "" {
		return url
	}
	return c.entityURL(entity) + "/ping"
}

func pingStatus(value string) core.Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error", "down", "unhealthy":
		return core.StatusError
	default:
		return core.StatusHealthy
	}
}

func decodeBody(resp *http.Response, target any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
