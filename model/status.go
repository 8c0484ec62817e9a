package model

// AgentState enumerates the lifecycle/health states surfaced by
// AgentStatus.Status. It mirrors the enum-with-String() idiom used by
// resilience.State and health.Status elsewhere in this module.
type AgentState int

const (
	StateHealthy AgentState = iota
	StateDegraded
	StateError
	StateStopped
)

func (s AgentState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its wire string.
func (s AgentState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// AgentStatus is the heartbeat payload pushed to the management service
// and returned from Handler.GetStatus.
type AgentStatus struct {
	Status        AgentState `json:"status"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	EventsSent    int64      `json:"events_sent"`
	MetricsSent   int64      `json:"metrics_sent"`
	Errors        int64      `json:"errors"`
	BufferSize    int        `json:"buffer_size"`
	LastFlushTS   float64    `json:"last_flush_ts"`
	LastError     *string    `json:"last_error"`
	Version       string     `json:"version"`
}
