package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastapi-guard/agent-go/model"
	"github.com/fastapi-guard/agent-go/store"
	"github.com/fastapi-guard/agent-go/util"
)

const (
	overflowEventsPrefix  = "overflow:events:"
	overflowMetricsPrefix = "overflow:metrics:"
	overflowTTL           = 7 * 24 * time.Hour
	highWaterFraction     = 0.8
)

// Stats reports the buffer's point-in-time counters.
type Stats struct {
	EventsSize         int
	MetricsSize        int
	Capacity           int
	DroppedEvents      int64
	DroppedMetrics     int64
	StoreErrors        int64
	RecoverErrors      int64
	OverflowEntries    int
	LastFlushTimestamp float64
}

// Buffer holds two bounded, ordered queues (events and metrics),
// spilling to an optional store.Store on overflow instead of
// dropping, and serving flush/recovery for the agent package.
type Buffer struct {
	mu      sync.Mutex
	events  []model.SecurityEvent
	metrics []model.SecurityMetric

	capacity int
	store    store.Store

	sequence uint64

	droppedEvents  int64
	droppedMetrics int64
	storeErrors    int64
	recoverErrors  int64

	lastFlushTS float64

	sensitiveHeaders map[string]struct{}

	highWater chan struct{}
}

// New builds a Buffer with the given capacity per queue and a set of
// metadata keys to redact on enqueue. store may be nil, in which case
// the buffer behaves purely in-memory and overflow drops the oldest
// item.
func New(capacity int, sensitiveHeaders map[string]struct{}) *Buffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer{
		capacity:         capacity,
		sensitiveHeaders: sensitiveHeaders,
		highWater:        make(chan struct{}, 1),
	}
}

// AttachStore wires a durable store to the buffer. It may be called
// before or after construction but must not be called concurrently
// with AddEvent/AddMetric/Flush.
func (b *Buffer) AttachStore(s store.Store) {
	b.mu.Lock()
	b.store = s
	b.mu.Unlock()
}

// HighWater returns a channel that receives a single-shot
// notification whenever a queue crosses 80% of capacity. Sends are
// non-blocking and coalesce: a flusher that wakes once drains every
// pending notification.
func (b *Buffer) HighWater() <-chan struct{} {
	return b.highWater
}

func (b *Buffer) signalHighWater() {
	select {
	case b.highWater <- struct{}{}:
	default:
	}
}

// AddEvent redacts e's metadata and enqueues it. If the events queue
// is full, it spills to the store when attached, otherwise it drops
// the oldest event and increments the dropped counter. AddEvent never
// blocks on transport.
func (b *Buffer) AddEvent(ctx context.Context, e model.SecurityEvent) {
	e.Metadata = util.Redact(e.Metadata, b.sensitiveHeaders)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) < b.capacity {
		b.events = append(b.events, e)
		if b.fullFractionLocked(len(b.events)) {
			b.signalHighWater()
		}
		return
	}

	if b.store != nil {
		seq := atomic.AddUint64(&b.sequence, 1)
		if err := b.spillLocked(ctx, overflowEventsPrefix, seq, e); err == nil {
			b.signalHighWater()
			return
		}
		b.storeErrors++
	}

	b.events = append(b.events[1:], e)
	b.droppedEvents++
	b.signalHighWater()
}

// AddMetric is AddEvent's counterpart for metrics.
func (b *Buffer) AddMetric(ctx context.Context, m model.SecurityMetric) {
	m.Tags = util.Redact(m.Tags, b.sensitiveHeaders)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.metrics) < b.capacity {
		b.metrics = append(b.metrics, m)
		if b.fullFractionLocked(len(b.metrics)) {
			b.signalHighWater()
		}
		return
	}

	if b.store != nil {
		seq := atomic.AddUint64(&b.sequence, 1)
		if err := b.spillLocked(ctx, overflowMetricsPrefix, seq, m); err == nil {
			b.signalHighWater()
			return
		}
		b.storeErrors++
	}

	b.metrics = append(b.metrics[1:], m)
	b.droppedMetrics++
	b.signalHighWater()
}

func (b *Buffer) fullFractionLocked(size int) bool {
	return float64(size) >= highWaterFraction*float64(b.capacity)
}

func (b *Buffer) spillLocked(ctx context.Context, prefix string, seq uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d", prefix, seq)
	return b.store.Set(ctx, key, data, overflowTTL)
}

// Flush atomically swaps both queues with empty ones and returns
// their prior contents.
func (b *Buffer) Flush() ([]model.SecurityEvent, []model.SecurityMetric) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events
	metrics := b.metrics
	b.events = nil
	b.metrics = nil
	b.lastFlushTS = util.EpochSeconds(util.Now())
	return events, metrics
}

// OnDeliverySuccess records a successful flush round trip.
func (b *Buffer) OnDeliverySuccess() {
	b.mu.Lock()
	b.lastFlushTS = util.EpochSeconds(util.Now())
	b.mu.Unlock()
}

// OnDeliveryFailure re-prepends events and metrics that a flush could
// not deliver, up to capacity, spilling the remainder to the store
// when attached or dropping it otherwise.
func (b *Buffer) OnDeliveryFailure(ctx context.Context, events []model.SecurityEvent, metrics []model.SecurityMetric) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requeueEventsLocked(ctx, events)
	b.requeueMetricsLocked(ctx, metrics)
}

func (b *Buffer) requeueEventsLocked(ctx context.Context, events []model.SecurityEvent) {
	room := b.capacity - len(b.events)
	if room < 0 {
		room = 0
	}
	keep := events
	var overflow []model.SecurityEvent
	if len(events) > room {
		keep = events[:room]
		overflow = events[room:]
	}
	b.events = append(keep, b.events...)

	for _, e := range overflow {
		if b.store == nil {
			b.droppedEvents++
			continue
		}
		seq := atomic.AddUint64(&b.sequence, 1)
		if err := b.spillLocked(ctx, overflowEventsPrefix, seq, e); err != nil {
			b.storeErrors++
			b.droppedEvents++
		}
	}
}

func (b *Buffer) requeueMetricsLocked(ctx context.Context, metrics []model.SecurityMetric) {
	room := b.capacity - len(b.metrics)
	if room < 0 {
		room = 0
	}
	keep := metrics
	var overflow []model.SecurityMetric
	if len(metrics) > room {
		keep = metrics[:room]
		overflow = metrics[room:]
	}
	b.metrics = append(keep, b.metrics...)

	for _, m := range overflow {
		if b.store == nil {
			b.droppedMetrics++
			continue
		}
		seq := atomic.AddUint64(&b.sequence, 1)
		if err := b.spillLocked(ctx, overflowMetricsPrefix, seq, m); err != nil {
			b.storeErrors++
			b.droppedMetrics++
		}
	}
}

// Recover loads overflow entries from the attached store back into
// memory, in ascending sequence order, up to capacity, deleting each
// recovered key as it goes. Once the in-memory queue is full, the
// remaining higher-sequence keys are left untouched in the store for
// a later recovery pass rather than being read and discarded. It is a
// no-op when no store is attached. Malformed entries are skipped,
// deleted, and counted in Stats().RecoverErrors.
func (b *Buffer) Recover(ctx context.Context) error {
	b.mu.Lock()
	s := b.store
	b.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := b.recoverQueue(ctx, s, overflowEventsPrefix, func(data []byte) (bool, error) {
		var e model.SecurityEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return false, err
		}
		b.mu.Lock()
		inserted := len(b.events) < b.capacity
		if inserted {
			b.events = append(b.events, e)
		}
		b.mu.Unlock()
		return inserted, nil
	}); err != nil {
		return err
	}

	return b.recoverQueue(ctx, s, overflowMetricsPrefix, func(data []byte) (bool, error) {
		var m model.SecurityMetric
		if err := json.Unmarshal(data, &m); err != nil {
			return false, err
		}
		b.mu.Lock()
		inserted := len(b.metrics) < b.capacity
		if inserted {
			b.metrics = append(b.metrics, m)
		}
		b.mu.Unlock()
		return inserted, nil
	})
}

// recoverQueue replays keys under prefix in ascending sequence order,
// handing each decoded value to insert. insert reports whether the
// value was actually appended to the in-memory queue; a key is only
// deleted from the store once its value has landed in memory or is
// malformed beyond use. The first time insert reports no room (the
// queue is at capacity), the loop stops and every remaining key —
// including the one just read — is left untouched in the store for a
// later recovery pass.
func (b *Buffer) recoverQueue(ctx context.Context, s store.Store, prefix string, insert func([]byte) (bool, error)) error {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)

	for _, key := range keys {
		data, ok := s.Get(ctx, key)
		if !ok {
			continue
		}
		inserted, err := insert(data)
		if err != nil {
			b.mu.Lock()
			b.recoverErrors++
			b.mu.Unlock()
			_ = s.Delete(ctx, key)
			continue
		}
		if !inserted {
			break
		}
		_ = s.Delete(ctx, key)
	}
	return nil
}

// Stats returns a point-in-time snapshot of the buffer's counters.
func (b *Buffer) Stats(ctx context.Context) Stats {
	b.mu.Lock()
	s := b.store
	stats := Stats{
		EventsSize:         len(b.events),
		MetricsSize:        len(b.metrics),
		Capacity:           b.capacity,
		DroppedEvents:      b.droppedEvents,
		DroppedMetrics:     b.droppedMetrics,
		StoreErrors:        b.storeErrors,
		RecoverErrors:      b.recoverErrors,
		LastFlushTimestamp: b.lastFlushTS,
	}
	b.mu.Unlock()

	if s != nil {
		eventOverflow, _ := s.GetSize(ctx, overflowEventsPrefix)
		metricOverflow, _ := s.GetSize(ctx, overflowMetricsPrefix)
		stats.OverflowEntries = eventOverflow + metricOverflow
	}
	return stats
}
