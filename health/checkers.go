package health

import (
	"context"
	"fmt"
)

// ConnectionTester is satisfied by transport.Client: a reachability
// probe against the management service's health endpoint.
type ConnectionTester interface {
	TestConnection(ctx context.Context) bool
}

// TransportChecker folds a transport client's circuit breaker state
// and last connectivity probe into a single Checker, grounded on the
// PingChecker pattern (checker.go): reachability plus a behavioral
// state, not just a boolean.
type TransportChecker struct {
	client ConnectionTester
	state  func() fmt.Stringer
}

// NewTransportChecker builds a TransportChecker. stateFn reports the
// breaker's current state; it is passed separately from client so
// callers outside the transport package avoid importing resilience.
func NewTransportChecker(client ConnectionTester, stateFn func() fmt.Stringer) *TransportChecker {
	return &TransportChecker{client: client, state: stateFn}
}

// Name returns the name of this checker.
func (t *TransportChecker) Name() string {
	return "transport"
}

// Check reports Unhealthy when the breaker is open (the agent is
// deliberately short-circuiting), Degraded when the breaker is
// half-open or the connectivity probe fails, and Healthy otherwise.
func (t *TransportChecker) Check(ctx context.Context) Result {
	state := t.state().String()
	details := map[string]any{"breaker_state": state}

	if state == "open" {
		return Unhealthy("circuit breaker is open", ErrCheckFailed).WithDetails(details)
	}

	reachable := t.client.TestConnection(ctx)
	details["reachable"] = reachable

	if !reachable {
		return Degraded("management service unreachable").WithDetails(details)
	}
	if state == "half-open" {
		return Degraded("circuit breaker is half-open, probing recovery").WithDetails(details)
	}
	return Healthy("transport reachable").WithDetails(details)
}

// BufferStats is the subset of buffer.Buffer.Stats() that the health
// checker needs, named locally to avoid an import cycle back to the
// buffer package.
type BufferStats struct {
	EventsSize      int
	MetricsSize     int
	Capacity        int
	OverflowEntries int
	StoreErrors     int64
	RecoverErrors   int64
}

// BufferStatter is satisfied by buffer.Buffer's Stats accessor,
// adapted through a thin closure so this package stays
// dependency-free of buffer.
type BufferStatter func(ctx context.Context) BufferStats

// BufferChecker reports degraded when either queue is at capacity,
// and unhealthy when a queue is at capacity, the overflow store holds
// no entries and store errors have been recorded. A queue below
// capacity is reported healthy whatever the store error count.
type BufferChecker struct {
	stats BufferStatter
}

// NewBufferChecker builds a BufferChecker over fn.
func NewBufferChecker(fn BufferStatter) *BufferChecker {
	return &BufferChecker{stats: fn}
}

// Name returns the name of this checker.
func (b *BufferChecker) Name() string {
	return "buffer"
}

// Check performs the buffer health check.
func (b *BufferChecker) Check(ctx context.Context) Result {
	s := b.stats(ctx)
	details := map[string]any{
		"events_size":      s.EventsSize,
		"metrics_size":     s.MetricsSize,
		"capacity":         s.Capacity,
		"overflow_entries": s.OverflowEntries,
		"store_errors":     s.StoreErrors,
		"recover_errors":   s.RecoverErrors,
	}

	if s.Capacity == 0 {
		return Healthy("buffer not yet sized").WithDetails(details)
	}

	full := s.EventsSize >= s.Capacity || s.MetricsSize >= s.Capacity
	if full && s.OverflowEntries == 0 && s.StoreErrors > 0 {
		return Unhealthy("buffer full and overflow store failing", ErrCheckFailed).WithDetails(details)
	}
	if full {
		return Degraded("buffer at capacity, spilling to overflow store").WithDetails(details)
	}
	return Healthy(fmt.Sprintf("buffer at %d/%d events, %d overflow entries", s.EventsSize, s.Capacity, s.OverflowEntries)).WithDetails(details)
}
