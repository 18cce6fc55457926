package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/observability"
)

// ScheduleSource exposes the refresh coordinator state.
type ScheduleSource interface {
	Status() refresh.Status
}

// EntityLister exposes the published entity records.
type EntityLister interface {
	Entities() []core.EntityRecord
}

// Sample is the result of one sampler tick.
type Sample struct {
	At        time.Time             `json:"at"`
	Counts    map[string]int        `json:"counts"`
	Scheduled []refresh.TopicStatus `json:"topics"`
}

// Sampler publishes gauges on every tick of the metrics topic.
type Sampler struct {
	Schedule  ScheduleSource
	Entities  EntityLister
	StartedAt time.Time
	Clock     func() time.Time
	Logger    observability.Logger
}

// Sample publishes the current gauges and returns what it published.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock()
	}
	sample := Sample{At: now, Counts: make(map[string]int)}

	if s.Schedule != nil {
		status := s.Schedule.Status()
		for _, topic := range status.Topics {
			SetTopicSchedule(topic.Topic, topic.BackoffFactor, time.Duration(topic.EffectiveIntervalMs)*time.Millisecond)
		}
		sample.Scheduled = status.Topics
	}

	if s.Entities != nil {
		for _, state := range []core.Status{core.StatusHealthy, core.StatusCached, core.StatusRateLimited, core.StatusError, core.StatusUnknown} {
			sample.Counts[state.String()] = 0
		}
		for _, record := range s.Entities.Entities() {
			sample.Counts[record.State().String()]++
		}
		for state, count := range sample.Counts {
			SetEntityCount(state, count)
		}
	}

	if !s.StartedAt.IsZero() {
		SetServerUptime(int64(now.Sub(s.StartedAt).Seconds()))
	}

	observability.OrNop(s.Logger).Debug("Metrics sampled",
		zap.Int("healthy", sample.Counts[core.StatusHealthy.String()]),
		zap.Int("error", sample.Counts[core.StatusError.String()]))
	return sample, nil
}

// Attach subscribes the sampler to the metrics topic and returns the
// unsubscribe function.
func (s *Sampler) Attach(coordinator *refresh.Coordinator) func() {
	return coordinator.Subscribe(refresh.TopicMetrics, func(ctx context.Context) error {
		if _, err := s.Sample(ctx); err != nil {
			coordinator.ReportError(refresh.TopicMetrics)
			return err
		}
		coordinator.ReportSuccess(refresh.TopicMetrics)
		return nil
	})
}
