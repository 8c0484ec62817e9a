// Package model defines the wire data model shared by the buffer, cipher,
// transport and agent packages: security events and metrics, the batches
// that bundle them for transport, the dynamic rule document pulled from the
// management service, and the agent's own configuration and status.
package model

// EventType enumerates the kinds of security event the host middleware
// can report.
type EventType string

// Recognised event types. The set is fixed by the remote wire contract;
// EventType.Valid reports whether a value is one of them. Nothing in this
// package rejects unknown values on its own.
const (
	EventIPBanned            EventType = "ip_banned"
	EventRateLimited         EventType = "rate_limited"
	EventSuspiciousRequest   EventType = "suspicious_request"
	EventCloudBlocked        EventType = "cloud_blocked"
	EventCountryBlocked      EventType = "country_blocked"
	EventPenetrationAttempt  EventType = "penetration_attempt"
	EventBehavioralViolation EventType = "behavioral_violation"
	EventUserAgentBlocked    EventType = "user_agent_blocked"
	EventCustomRuleTriggered EventType = "custom_rule_triggered"
	EventPathExcluded        EventType = "path_excluded"
	EventDynamicRuleUpdated  EventType = "dynamic_rule_updated"
	EventErrorResponse       EventType = "error_response"
	EventLoginAttempt        EventType = "login_attempt"
	EventSuspiciousActivity  EventType = "suspicious_activity"
)

var validEventTypes = map[EventType]struct{}{
	EventIPBanned:            {},
	EventRateLimited:         {},
	EventSuspiciousRequest:   {},
	EventCloudBlocked:        {},
	EventCountryBlocked:      {},
	EventPenetrationAttempt:  {},
	EventBehavioralViolation: {},
	EventUserAgentBlocked:    {},
	EventCustomRuleTriggered: {},
	EventPathExcluded:        {},
	EventDynamicRuleUpdated:  {},
	EventErrorResponse:       {},
	EventLoginAttempt:        {},
	EventSuspiciousActivity:  {},
}

// Valid reports whether t is one of the recognised event types.
func (t EventType) Valid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// SecurityEvent is a single security-relevant occurrence reported by the
// host middleware.
type SecurityEvent struct {
	Timestamp    float64           `json:"timestamp"`
	EventType    EventType         `json:"event_type"`
	IPAddress    string            `json:"ip_address"`
	Country      string            `json:"country,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ActionTaken  string            `json:"action_taken"`
	Reason       string            `json:"reason"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Method       string            `json:"method,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	ResponseTime float64           `json:"response_time,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MetricType enumerates the kinds of performance metric the host
// middleware can report.
type MetricType string

// Recognised metric types, fixed by the remote wire contract.
const (
	MetricRequestCount MetricType = "request_count"
	MetricResponseTime MetricType = "response_time"
	MetricErrorRate    MetricType = "error_rate"
	MetricBandwidth    MetricType = "bandwidth_usage"
	MetricThreatLevel  MetricType = "threat_level"
	MetricBlockRate    MetricType = "block_rate"
	MetricCacheHitRate MetricType = "cache_hit_rate"
)

var validMetricTypes = map[MetricType]struct{}{
	MetricRequestCount: {},
	MetricResponseTime: {},
	MetricErrorRate:    {},
	MetricBandwidth:    {},
	MetricThreatLevel:  {},
	MetricBlockRate:    {},
	MetricCacheHitRate: {},
}

// Valid reports whether t is one of the recognised metric types.
func (t MetricType) Valid() bool {
	_, ok := validMetricTypes[t]
	return ok
}

// SecurityMetric is a single performance or security measurement.
type SecurityMetric struct {
	Timestamp  float64           `json:"timestamp"`
	MetricType MetricType        `json:"metric_type"`
	Value      float64           `json:"value"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}
