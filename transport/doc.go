// Package transport is the agent's outbound HTTP client: it delivers
// encrypted event/metric batches, status heartbeats and dynamic rule
// fetches to the management service, composing a rate limiter,
// circuit breaker, retry policy, bulkhead and per-attempt timeout
// from the resilience package around a standard http.Client, grounded
// on resilience/executor.go's composition pattern and the
// construction idiom of third-party resilient HTTP clients in this
// ecosystem. Unlike resilience.Executor's fixed breaker-wraps-retry
// order, the client's do runs retry inside a bulkhead and around the
// rate limiter and breaker so each retry attempt re-waits and
// re-enters the breaker individually; TestConnection, a single
// fire-once probe with no retry semantics of its own, runs through an
// actual resilience.Executor instead.
//
// Every public send method absorbs its own failures and reports them
// through Stats rather than returning an error: producer-facing code
// in the agent package never sees a transport error directly, per the
// system's "failures are absorbed into counters" propagation policy.
package transport
