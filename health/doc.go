// Package health provides health checking primitives for the agent's
// own components.
//
// It implements a generic health checking framework — [Checker],
// [Aggregator], [Result] — plus two checkers grounded in this agent's
// domain: [TransportChecker] folds a transport client's circuit
// breaker state and a live connectivity probe into a single status,
// and [BufferChecker] reports on queue occupancy and overflow-store
// errors. The agent package wires both into an [Aggregator] a host
// application can poll for its own liveness/readiness reporting; this
// package does not itself expose an HTTP server.
//
// # Status Types
//
// The [Status] type represents component health:
//
//   - [StatusHealthy]: Component is functioning normally
//   - [StatusDegraded]: Component is functioning but with issues
//   - [StatusUnhealthy]: Component is not functioning properly
//
// # Core Components
//
//   - [Checker]: Interface for health checks (Name() + Check())
//   - [CheckerFunc]: Adapter for function-based checkers
//   - [Result]: Health check outcome with status, message, details, duration
//   - [Aggregator]: Combines multiple checkers into composite health
//   - [MemoryChecker]: Built-in checker for memory usage thresholds
//   - [TransportChecker]: Circuit breaker state plus connectivity probe
//   - [BufferChecker]: Queue occupancy and overflow-store health
//
// # Quick Start
//
//	agg := health.NewAggregator()
//	agg.Register("transport", health.NewTransportChecker(client,
//		func() fmt.Stringer { return client.BreakerState() }))
//	agg.Register("buffer", health.NewBufferChecker(func(ctx context.Context) health.BufferStats {
//		s := buf.Stats(ctx)
//		return health.BufferStats{EventsSize: s.EventsSize, MetricsSize: s.MetricsSize, Capacity: s.Capacity}
//	}))
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// # Aggregation Behavior
//
// The [Aggregator] computes overall status using worst-case logic:
//
//   - If ANY check is Unhealthy → overall Unhealthy
//   - If ANY check is Degraded (and none Unhealthy) → overall Degraded
//   - If ALL checks are Healthy → overall Healthy
//
// Checks can run in parallel (default) or sequentially via [AggregatorConfig].
//
// # Thread Safety
//
// All exported types are safe for concurrent use:
//
//   - [Aggregator]: sync.RWMutex protects registration and check execution
//   - [MemoryChecker]: Stateless, concurrent-safe
//   - [CheckerFunc]: Delegates to user function, ensure your function is safe
//   - [Result]: Immutable after creation
//
// # Error Handling
//
// Sentinel errors (use errors.Is for checking):
//
//   - [ErrCheckFailed]: Generic health check failure
//   - [ErrCheckTimeout]: Check exceeded timeout
//   - [ErrCheckerNotFound]: Named checker not registered
//   - [ErrNoCheckers]: No checkers registered in aggregator
package health
