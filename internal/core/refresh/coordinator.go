// Package refresh schedules recurring work per named topic.
//
// Each topic owns at most one armed timer. Subscribers registered on a topic
// share that timer, and the effective interval is the topic's base interval
// multiplied by an error-driven backoff factor.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/core/clock"
	"github.com/arenawatch/arenawatch/internal/observability"
)

// Well-known topics.
const (
	TopicEntities = "entities"
	TopicMetrics  = "metrics"
	TopicHistory  = "history"
)

const (
	// MaxBackoffFactor caps the interval multiplier.
	MaxBackoffFactor = 5

	// DefaultInterval applies to topics without a configured base interval.
	DefaultInterval = time.Minute
)

// DefaultIntervals provides the base interval for the well-known topics.
var DefaultIntervals = map[string]time.Duration{
	TopicEntities: 60 * time.Second,
	TopicMetrics:  30 * time.Second,
	TopicHistory:  120 * time.Second,
}

// Callback is invoked on every tick of a topic.
type Callback func(ctx context.Context) error

// Options configures a Coordinator.
type Options struct {
	Intervals map[string]time.Duration
	Clock     clock.Clock
	Logger    observability.Logger
}

// Coordinator owns one recurring timer per topic.
type Coordinator struct {
	mu      sync.Mutex
	topics  map[string]*topic
	enabled bool
	nextID  uint64

	ctx    context.Context
	cancel context.CancelFunc

	clock     clock.Clock
	logger    observability.Logger
	intervals map[string]time.Duration
	running   sync.WaitGroup
}

type subscriber struct {
	id uint64
	fn Callback
}

type topic struct {
	name        string
	base        time.Duration
	backoff     int
	subscribers []subscriber
	timer       clock.Timer
	generation  uint64
	lastRefresh *time.Time
}

// TopicStatus is a read-only view of one topic.
type TopicStatus struct {
	Topic               string     `json:"topic"`
	BaseIntervalMs      int64      `json:"base_interval_ms"`
	EffectiveIntervalMs int64      `json:"effective_interval_ms"`
	BackoffFactor       int        `json:"backoff_factor"`
	SubscriberCount     int        `json:"subscriber_count"`
	Active              bool       `json:"active"`
	LastRefresh         *time.Time `json:"last_refresh,omitempty"`
}

// Status is a read-only view of the coordinator.
type Status struct {
	Enabled bool          `json:"enabled"`
	Topics  []TopicStatus `json:"topics"`
}

// Topic returns the status for name.
func (s Status) Topic(name string) (TopicStatus, bool) {
	for _, t := range s.Topics {
		if t.Topic == name {
			return t, true
		}
	}
	return TopicStatus{}, false
}

// New creates a stopped coordinator. Subscriptions may be registered before
// Start; no timer is armed until scheduling is enabled.
func New(opts Options) *Coordinator {
	intervals := make(map[string]time.Duration, len(DefaultIntervals)+len(opts.Intervals))
	for name, d := range DefaultIntervals {
		intervals[name] = d
	}
	for name, d := range opts.Intervals {
		if d > 0 {
			intervals[name] = d
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	c := &Coordinator{
		topics:    make(map[string]*topic),
		ctx:       context.Background(),
		cancel:    func() {},
		clock:     clk,
		logger:    observability.OrNop(opts.Logger),
		intervals: intervals,
	}
	for name := range intervals {
		c.topicLocked(name)
	}
	return c
}

// Start binds ctx to the callbacks and enables scheduling.
func (c *Coordinator) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.SetEnabled(true)
}

// Stop disables scheduling, cancels the callback context and waits for
// running ticks to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.disableLocked()
	c.cancel()
	c.mu.Unlock()

	c.running.Wait()
}

// SetEnabled toggles scheduling for every topic. Disabling keeps subscribers
// and backoff state; enabling arms a fresh timer for each subscribed topic.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enabled == c.enabled {
		return
	}
	if !enabled {
		c.disableLocked()
		c.logger.Info("Refresh scheduling disabled")
		return
	}

	c.enabled = true
	for _, t := range c.topics {
		if len(t.subscribers) > 0 {
			c.armLocked(t)
		}
	}
	c.logger.Info("Refresh scheduling enabled")
}

// Enabled reports whether scheduling is active.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Subscribe registers fn on a topic and returns its unsubscribe function.
// The first subscriber arms the topic timer for one interval.
func (c *Coordinator) Subscribe(name string, fn Callback) func() {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	t := c.topicLocked(name)
	c.nextID++
	id := c.nextID
	t.subscribers = append(t.subscribers, subscriber{id: id, fn: fn})
	if len(t.subscribers) == 1 && c.enabled && t.timer == nil {
		c.armLocked(t)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(name, id) })
	}
}

func (c *Coordinator) unsubscribe(name string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.topics[name]
	if !ok {
		return
	}
	for i, sub := range t.subscribers {
		if sub.id == id {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			break
		}
	}
	if len(t.subscribers) == 0 {
		c.cancelLocked(t)
	}
}

// ForceRefresh runs a topic's callbacks immediately and reschedules the topic
// from now. It returns false when scheduling is disabled or the topic has no
// subscribers.
func (c *Coordinator) ForceRefresh(name string) bool {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return false
	}
	t, ok := c.topics[name]
	if !ok || len(t.subscribers) == 0 {
		c.mu.Unlock()
		return false
	}
	c.cancelLocked(t)
	c.tickLocked(t)
	return true
}

// ReportSuccess resets the topic backoff factor to 1.
func (c *Coordinator) ReportSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicLocked(name).backoff = 1
}

// ReportError doubles the topic backoff factor, capped at MaxBackoffFactor.
func (c *Coordinator) ReportError(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.topicLocked(name)
	t.backoff = min(t.backoff*2, MaxBackoffFactor)
	c.logger.Debug("Refresh backoff increased",
		zap.String("topic", name),
		zap.Int("backoff_factor", t.backoff))
}

// Status returns a snapshot of every known topic, sorted by name.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{Enabled: c.enabled, Topics: make([]TopicStatus, 0, len(c.topics))}
	for _, t := range c.topics {
		ts := TopicStatus{
			Topic:               t.name,
			BaseIntervalMs:      t.base.Milliseconds(),
			EffectiveIntervalMs: t.effective().Milliseconds(),
			BackoffFactor:       t.backoff,
			SubscriberCount:     len(t.subscribers),
			Active:              t.timer != nil,
		}
		if t.lastRefresh != nil {
			last := *t.lastRefresh
			ts.LastRefresh = &last
		}
		status.Topics = append(status.Topics, ts)
	}
	sort.Slice(status.Topics, func(i, j int) bool { return status.Topics[i].Topic < status.Topics[j].Topic })
	return status
}

func (c *Coordinator) topicLocked(name string) *topic {
	if t, ok := c.topics[name]; ok {
		return t
	}
	base, ok := c.intervals[name]
	if !ok {
		base = DefaultInterval
	}
	t := &topic{name: name, base: base, backoff: 1}
	c.topics[name] = t
	return t
}

func (t *topic) effective() time.Duration {
	return t.base * time.Duration(t.backoff)
}

func (c *Coordinator) disableLocked() {
	c.enabled = false
	for _, t := range c.topics {
		c.cancelLocked(t)
	}
}

// cancelLocked stops the pending timer and invalidates any timer callback
// that already fired but has not yet acquired the lock.
func (c *Coordinator) cancelLocked(t *topic) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}

func (c *Coordinator) armLocked(t *topic) {
	c.cancelLocked(t)
	generation := t.generation
	name := t.name
	t.timer = c.clock.AfterFunc(t.effective(), func() {
		c.fire(name, generation)
	})
}

func (c *Coordinator) fire(name string, generation uint64) {
	c.mu.Lock()
	t, ok := c.topics[name]
	if !ok || !c.enabled || t.generation != generation {
		c.mu.Unlock()
		return
	}
	t.timer = nil
	c.tickLocked(t)
}

// tickLocked runs one tick. It is entered with c.mu held and returns with it
// released: callbacks run unlocked so they may call back into the coordinator.
func (c *Coordinator) tickLocked(t *topic) {
	now := c.clock.Now()
	t.lastRefresh = &now
	subs := make([]subscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	ctx := c.ctx
	c.running.Add(1)
	c.mu.Unlock()

	defer c.running.Done()

	for _, sub := range subs {
		c.invoke(ctx, t.name, sub)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled && len(t.subscribers) > 0 {
		c.armLocked(t)
	}
}

func (c *Coordinator) invoke(ctx context.Context, name string, sub subscriber) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Refresh callback panicked",
				zap.String("topic", name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := sub.fn(ctx); err != nil {
		c.logger.Warn("Refresh callback failed",
			zap.String("topic", name),
			zap.Error(err))
	}
}
