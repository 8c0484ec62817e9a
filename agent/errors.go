package agent

import (
	"errors"
	"fmt"

	"github.com/fastapi-guard/agent-go/model"
)

// Sentinel errors returned by Handler's producer-facing API. None of
// these represent a transport or encryption failure; they are
// synchronous rejections raised before an item ever reaches the
// buffer.
var (
	ErrEventsDisabled  = errors.New("agent: events are disabled for this configuration")
	ErrMetricsDisabled = errors.New("agent: metrics are disabled for this configuration")
	ErrNotStarted      = errors.New("agent: handler has not been started")

	// ErrInvariant marks a buffer/state invariant violation. No code
	// in this module returns or logs it.
	ErrInvariant = errors.New("agent: internal invariant violated")
)

// ConfigConflict is returned by Get when a second construction under
// the same registry key carries a configuration that differs from the
// one the registry already holds.
type ConfigConflict struct {
	Key string
}

func (e *ConfigConflict) Error() string {
	return fmt.Sprintf("agent: configuration conflict for key %q: a handler with a different configuration already exists", e.Key)
}

// newConfigConflict builds a ConfigConflict for cfg's registry key.
func newConfigConflict(cfg *model.AgentConfig) *ConfigConflict {
	return &ConfigConflict{Key: cfg.Key()}
}
