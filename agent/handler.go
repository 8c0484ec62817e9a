package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fastapi-guard/agent-go/buffer"
	"github.com/fastapi-guard/agent-go/health"
	"github.com/fastapi-guard/agent-go/model"
	"github.com/fastapi-guard/agent-go/observe"
	"github.com/fastapi-guard/agent-go/store"
	"github.com/fastapi-guard/agent-go/transport"
	"github.com/fastapi-guard/agent-go/util"
)

const (
	defaultRuleInterval  = 300 * time.Second
	minStopFlushDeadline = 5 * time.Second
	heartbeatMultiplier  = 2
)

// Handler is the agent's lifecycle orchestrator: it owns the buffer,
// the transport client, and three independent background tasks
// (flusher, heartbeat, rule poller), each cancellable on its own so
// Stop can bring them down without entangling their cancellation
// semantics.
type Handler struct {
	cfg    *model.AgentConfig
	logger observe.Logger

	mu          sync.Mutex
	started     bool
	state       model.AgentState
	startedAt   time.Time
	lastError   *string
	rules       *model.DynamicRules
	subscribers []func(*model.DynamicRules)
	store       store.Store

	cancelFlusher   context.CancelFunc
	cancelHeartbeat context.CancelFunc
	cancelPoller    context.CancelFunc
	group           *errgroup.Group

	buf    *buffer.Buffer
	client *transport.Client
	health *health.Aggregator
	obs    observe.Observer
	mw     *observe.Middleware

	eventsReceived   int64
	eventsSent       int64
	metricsSent      int64
	errorsCount      int64
	droppedEncrypted int64
	consecutiveFails int64
}

func newHandler(cfg *model.AgentConfig) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: observe.NewLogger("info").WithOperation(observe.OperationMeta{Namespace: "agent", Name: "handler"}),
		state:  model.StateStopped,
		buf:    buffer.New(cfg.BufferSize, cfg.SensitiveHeaders),
	}
}

// Start initializes the transport client, verifies the encryption
// round trip, attaches any store configured via InitializeStore,
// recovers overflowed items, and launches the background tasks. It is
// idempotent: calling Start on an already-started handler is a no-op.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}

	obs, err := observe.NewObserver(ctx, observe.Config{
		ServiceName: "fastapi-guard-agent",
		Version:     h.cfg.Version,
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "none"},
		Tracing:     observe.TracingConfig{Enabled: false},
		Logging:     observe.LoggingConfig{Enabled: false},
	})
	if err != nil {
		h.state = model.StateError
		msg := err.Error()
		h.lastError = &msg
		h.mu.Unlock()
		return err
	}
	h.obs = obs

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		h.state = model.StateError
		msg := err.Error()
		h.lastError = &msg
		h.mu.Unlock()
		return err
	}
	h.mw = mw

	client, err := transport.New(h.cfg, nil, transport.WithMiddleware(mw))
	if err != nil {
		h.state = model.StateError
		msg := err.Error()
		h.lastError = &msg
		h.mu.Unlock()
		return err
	}
	h.client = client

	agg := health.NewAggregator()
	agg.Register("memory", health.NewMemoryChecker(health.MemoryCheckerConfig{}))
	agg.Register("transport", health.NewTransportChecker(client, func() fmt.Stringer { return client.BreakerState() }))
	agg.Register("buffer", health.NewBufferChecker(func(ctx context.Context) health.BufferStats {
		s := h.buf.Stats(ctx)
		return health.BufferStats{
			EventsSize:      s.EventsSize,
			MetricsSize:     s.MetricsSize,
			Capacity:        s.Capacity,
			OverflowEntries: s.OverflowEntries,
			StoreErrors:     s.StoreErrors,
			RecoverErrors:   s.RecoverErrors,
		}
	}))
	h.health = agg

	if h.store != nil {
		h.buf.AttachStore(h.store)
	}
	h.mu.Unlock()

	if err := h.buf.Recover(ctx); err != nil {
		h.logger.Warn(ctx, "buffer recovery failed", observe.Field{Key: "error", Value: err.Error()})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.group = &errgroup.Group{}

	flushCtx, cancelFlush := context.WithCancel(context.Background())
	h.cancelFlusher = cancelFlush
	h.group.Go(func() error {
		h.flusherLoop(flushCtx)
		return nil
	})

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	h.cancelHeartbeat = cancelHeartbeat
	h.group.Go(func() error {
		h.heartbeatLoop(heartbeatCtx)
		return nil
	})

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	h.cancelPoller = cancelPoll
	h.group.Go(func() error {
		h.rulePollLoop(pollCtx)
		return nil
	})

	h.state = model.StateHealthy
	h.startedAt = util.Now()
	h.started = true
	return nil
}

// Stop cancels the background tasks, waits for them to exit, performs
// a final best-effort flush bounded by max(flush_interval, 5s), and
// marks the handler stopped. It is idempotent and never returns an
// error: once entered, it always runs to completion.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancelFlusher := h.cancelFlusher
	cancelHeartbeat := h.cancelHeartbeat
	cancelPoller := h.cancelPoller
	group := h.group
	h.mu.Unlock()

	cancelFlusher()
	cancelHeartbeat()
	cancelPoller()
	_ = group.Wait()

	deadline := h.cfg.FlushInterval
	if deadline < minStopFlushDeadline {
		deadline = minStopFlushDeadline
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	events, metrics := h.buf.Flush()
	if len(events) > 0 || len(metrics) > 0 {
		h.deliver(flushCtx, events, metrics)
	}

	h.mu.Lock()
	h.state = model.StateStopped
	obs := h.obs
	h.mu.Unlock()

	if obs != nil {
		if err := obs.Shutdown(ctx); err != nil {
			h.logger.Warn(ctx, "observability shutdown failed", observe.Field{Key: "error", Value: err.Error()})
		}
	}
	return nil
}

// CheckHealth runs the composite health aggregator over the
// transport client's circuit breaker and the buffer's queue
// occupancy, returning health.StatusUnhealthy if called before
// Start. Intended for a host's own liveness/readiness wiring, not
// exposed over HTTP by this package.
func (h *Handler) CheckHealth(ctx context.Context) (health.Status, map[string]health.Result) {
	h.mu.Lock()
	agg := h.health
	h.mu.Unlock()
	if agg == nil {
		return health.StatusUnhealthy, map[string]health.Result{
			"agent": health.Unhealthy("handler not started", ErrNotStarted),
		}
	}
	results := agg.CheckAll(ctx)
	return agg.OverallStatus(results), results
}

// SendEvent enqueues e through the buffer, rejecting it synchronously
// if events are disabled for this configuration. Once accepted, no
// further error can propagate to the caller: delivery failures are
// absorbed into counters.
func (h *Handler) SendEvent(ctx context.Context, e model.SecurityEvent) error {
	if !h.cfg.EnableEvents {
		return ErrEventsDisabled
	}
	atomic.AddInt64(&h.eventsReceived, 1)
	h.buf.AddEvent(ctx, e)
	return nil
}

// SendMetric is SendEvent's counterpart for metrics.
func (h *Handler) SendMetric(ctx context.Context, m model.SecurityMetric) error {
	if !h.cfg.EnableMetrics {
		return ErrMetricsDisabled
	}
	h.buf.AddMetric(ctx, m)
	return nil
}

// GetStatus composes the current AgentStatus from the handler's
// counters and the buffer's own stats snapshot.
func (h *Handler) GetStatus() model.AgentStatus {
	h.mu.Lock()
	state := h.state
	startedAt := h.startedAt
	lastError := h.lastError
	h.mu.Unlock()

	stats := h.buf.Stats(context.Background())

	var uptime float64
	if !startedAt.IsZero() {
		uptime = util.EpochSeconds(util.Now()) - util.EpochSeconds(startedAt)
	}

	return model.AgentStatus{
		Status:        state,
		UptimeSeconds: uptime,
		EventsSent:    atomic.LoadInt64(&h.eventsSent),
		MetricsSent:   atomic.LoadInt64(&h.metricsSent),
		Errors:        atomic.LoadInt64(&h.errorsCount),
		BufferSize:    stats.EventsSize + stats.MetricsSize,
		LastFlushTS:   stats.LastFlushTimestamp,
		LastError:     lastError,
		Version:       h.cfg.Version,
	}
}

// GetStats returns a debug-oriented aggregate combining buffer,
// transport, and handler-level counters.
func (h *Handler) GetStats() map[string]any {
	bufStats := h.buf.Stats(context.Background())

	out := map[string]any{
		"events_received":   atomic.LoadInt64(&h.eventsReceived),
		"events_sent":       atomic.LoadInt64(&h.eventsSent),
		"metrics_sent":      atomic.LoadInt64(&h.metricsSent),
		"errors":            atomic.LoadInt64(&h.errorsCount),
		"dropped_encrypted": atomic.LoadInt64(&h.droppedEncrypted),
		"buffer": map[string]any{
			"events_size":      bufStats.EventsSize,
			"metrics_size":     bufStats.MetricsSize,
			"capacity":         bufStats.Capacity,
			"dropped_events":   bufStats.DroppedEvents,
			"dropped_metrics":  bufStats.DroppedMetrics,
			"store_errors":     bufStats.StoreErrors,
			"recover_errors":   bufStats.RecoverErrors,
			"overflow_entries": bufStats.OverflowEntries,
			"last_flush_ts":    bufStats.LastFlushTimestamp,
		},
	}

	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client != nil {
		transportStats := client.Stats()
		out["transport"] = map[string]any{
			"requests_sent":   transportStats.RequestsSent,
			"requests_failed": transportStats.RequestsFailed,
			"bytes_sent":      transportStats.BytesSent,
			"last_error":      transportStats.LastError,
		}
	}

	return out
}

// GetDynamicRules returns the last cached rule document, or nil if
// none has been fetched yet.
func (h *Handler) GetDynamicRules() *model.DynamicRules {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rules
}

// Subscribe registers fn to be invoked, outside the handler's lock,
// whenever the rule poller observes a new rule document version.
func (h *Handler) Subscribe(fn func(*model.DynamicRules)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// InitializeStore attaches a durable store to the handler's buffer,
// permitted before or after Start. If called after Start, it triggers
// an immediate recovery in case the buffer had been running memory-only.
func (h *Handler) InitializeStore(s store.Store) error {
	h.mu.Lock()
	h.store = s
	started := h.started
	h.mu.Unlock()

	h.buf.AttachStore(s)
	if started {
		return h.buf.Recover(context.Background())
	}
	return nil
}

func (h *Handler) flusherLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-h.buf.HighWater():
		}
		h.flushOnce(ctx)
	}
}

func (h *Handler) flushOnce(ctx context.Context) {
	events, metrics := h.buf.Flush()
	if len(events) == 0 && len(metrics) == 0 {
		return
	}
	h.instrument(ctx, "flush", func(ctx context.Context) error {
		h.deliver(ctx, events, metrics)
		return nil
	})
}

// instrument runs fn under the handler's observability middleware when
// one is configured, recording a span and an operation execution for
// it under the "agent" namespace; it runs fn directly otherwise.
func (h *Handler) instrument(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if h.mw == nil {
		_ = fn(ctx)
		return
	}
	meta := observe.OperationMeta{Namespace: "agent", Name: name}
	wrapped := h.mw.Wrap(func(ctx context.Context, _ observe.OperationMeta, _ any) (any, error) {
		return nil, fn(ctx)
	})
	_, _ = wrapped(ctx, meta, nil)
}

// deliver sends events and metrics in parallel, absorbing every
// failure into counters and the buffer's requeue path rather than
// surfacing it to a caller.
func (h *Handler) deliver(ctx context.Context, events []model.SecurityEvent, metrics []model.SecurityMetric) {
	var wg sync.WaitGroup
	var failedEvents []model.SecurityEvent
	var failedMetrics []model.SecurityMetric
	var eventsFailed, metricsFailed bool
	anySucceeded := true

	if len(events) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, reason := h.client.SendEvents(ctx, events); !ok {
				eventsFailed = true
				failedEvents = classifyRequeue(reason, events, &h.droppedEncrypted)
			} else {
				atomic.AddInt64(&h.eventsSent, int64(len(events)))
			}
		}()
	}
	if len(metrics) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, reason := h.client.SendMetrics(ctx, metrics); !ok {
				metricsFailed = true
				failedMetrics = classifyRequeue(reason, metrics, &h.droppedEncrypted)
			} else {
				atomic.AddInt64(&h.metricsSent, int64(len(metrics)))
			}
		}()
	}
	wg.Wait()

	if eventsFailed || metricsFailed {
		anySucceeded = false
		atomic.AddInt64(&h.errorsCount, 1)
		if len(failedEvents) > 0 || len(failedMetrics) > 0 {
			h.buf.OnDeliveryFailure(ctx, failedEvents, failedMetrics)
		}
	}

	h.recordDeliveryOutcome(anySucceeded)
}

// classifyRequeue inspects the failure reason returned by the send call
// to decide what a failed send should hand back to the buffer:
// encryption failures are dropped and counted, 413 responses are
// re-buffered at half size, other permanent 4xx responses are
// dropped, and anything else (exhausted retries, an open breaker) is
// requeued in full for the next flush.
func classifyRequeue[T any](lastError string, items []T, droppedEncrypted *int64) []T {
	switch {
	case strings.Contains(lastError, "cipher:"):
		atomic.AddInt64(droppedEncrypted, int64(len(items)))
		return nil
	case strings.Contains(lastError, "permanent failure, status 413"):
		if len(items) > 1 {
			return items[:len(items)/2]
		}
		return nil
	case strings.Contains(lastError, "permanent failure, status"):
		return nil
	default:
		return items
	}
}

func (h *Handler) recordDeliveryOutcome(succeeded bool) {
	if succeeded {
		h.buf.OnDeliverySuccess()
		atomic.StoreInt64(&h.consecutiveFails, 0)
		h.mu.Lock()
		if h.state == model.StateDegraded || h.state == model.StateError {
			h.state = model.StateHealthy
		}
		h.mu.Unlock()
		return
	}

	atomic.AddInt64(&h.consecutiveFails, 1)
	lastError := h.client.Stats().LastError
	newState := model.StateDegraded
	if strings.Contains(lastError, "circuit breaker is open") {
		newState = model.StateError
	}
	h.mu.Lock()
	h.state = newState
	h.lastError = &lastError
	h.mu.Unlock()
}

func (h *Handler) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.FlushInterval * heartbeatMultiplier)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.instrument(ctx, "heartbeat", func(ctx context.Context) error {
				if ok := h.client.SendStatus(ctx, h.GetStatus()); !ok {
					return fmt.Errorf("heartbeat send failed: %s", h.client.Stats().LastError)
				}
				return nil
			})
		}
	}
}

func (h *Handler) rulePollLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultRuleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.instrument(ctx, "poll_rules", func(ctx context.Context) error {
				h.pollRulesOnce(ctx)
				return nil
			})
		}
	}
}

func (h *Handler) pollRulesOnce(ctx context.Context) {
	rules, ok := h.client.FetchDynamicRules(ctx)
	if !ok {
		atomic.AddInt64(&h.errorsCount, 1)
		return
	}
	if rules == nil {
		return // 304 Not Modified
	}

	h.mu.Lock()
	changed := h.rules == nil || h.rules.Version != rules.Version
	if changed {
		h.rules = rules
	}
	subscribers := append([]func(*model.DynamicRules){}, h.subscribers...)
	h.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subscribers {
		fn(rules)
	}
}
