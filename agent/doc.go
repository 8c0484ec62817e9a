// Package agent is the handler/orchestrator that ties the buffer,
// cipher and transport packages together into the embeddable agent a
// host security middleware constructs once per (api_key, project_id,
// endpoint) tuple. Get implements that singleton lookup, grounded on
// the teacher's factory-registry pattern (secret/registry.go):
// a package-level mutex-guarded map plus a ResetRegistryForTest hook
// for tests that need a clean slate.
//
// Handler.Start launches three independently cancellable background
// tasks (flusher, heartbeat, rule poller) supervised by a
// golang.org/x/sync/errgroup.Group; Handler.Stop cancels all three,
// waits for them, and performs one final bounded flush before marking
// the handler stopped.
package agent
