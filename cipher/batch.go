package cipher

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/fastapi-guard/agent-go/model"
)

// jsonTime renders a float64 seconds-since-epoch value as an RFC3339
// UTC, seconds-precision string on the wire, per the management
// service's ISO-8601 timestamp contract.
type jsonTime float64

func (t jsonTime) MarshalJSON() ([]byte, error) {
	f := float64(t)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite timestamp", ErrNotSerializable)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	ts := time.Unix(sec, nsec).UTC().Format(time.RFC3339)
	return json.Marshal(ts)
}

type wireEvent struct {
	Timestamp    jsonTime          `json:"timestamp"`
	EventType    model.EventType   `json:"event_type"`
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

type wireMetric struct {
	Timestamp  jsonTime          `json:"timestamp"`
	MetricType model.MetricType  `json:"metric_type"`
	Value      float64           `json:"value"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type wireBatch struct {
	Events         []wireEvent  `json:"events,omitempty"`
	Metrics        []wireMetric `json:"metrics,omitempty"`
	BatchTimestamp jsonTime     `json:"batch_timestamp"`
	ProjectID      string       `json:"project_id"`
}

func toWireEvents(events []model.SecurityEvent) []wireEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]wireEvent, len(events))
	for i, e := range events {
		out[i] = wireEvent{
			Timestamp:    jsonTime(e.Timestamp),
			EventType:    e.EventType,
			IPAddress:    e.IPAddress,
			Country:      e.Country,
			UserAgent:    e.UserAgent,
			ActionTaken:  e.ActionTaken,
			Reason:       e.Reason,
			Endpoint:     e.Endpoint,
			Method:       e.Method,
			StatusCode:   e.StatusCode,
			ResponseTime: e.ResponseTime,
			Metadata:     e.Metadata,
		}
	}
	return out
}

func toWireMetrics(metrics []model.SecurityMetric) []wireMetric {
	if len(metrics) == 0 {
		return nil
	}
	out := make([]wireMetric, len(metrics))
	for i, m := range metrics {
		out[i] = wireMetric{
			Timestamp:  jsonTime(m.Timestamp),
			MetricType: m.MetricType,
			Value:      m.Value,
			Endpoint:   m.Endpoint,
			Tags:       m.Tags,
		}
	}
	return out
}

// MarshalBatch renders an EventBatch with ISO-8601 timestamps, the
// wire format the management service expects. It returns
// ErrNotSerializable if any timestamp is NaN or infinite.
func MarshalBatch(b model.EventBatch) ([]byte, error) {
	w := wireBatch{
		Events:         toWireEvents(b.Events),
		Metrics:        toWireMetrics(b.Metrics),
		BatchTimestamp: jsonTime(b.BatchTimestamp),
		ProjectID:      b.ProjectID,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return data, nil
}

// MarshalEvents renders a bare events list with ISO-8601 timestamps,
// the body shape sent to the events/encrypted endpoint before
// encryption: {"events": [...]}.
func MarshalEvents(events []model.SecurityEvent) ([]byte, error) {
	data, err := json.Marshal(struct {
		Events []wireEvent `json:"events"`
	}{Events: toWireEvents(events)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return data, nil
}

// MarshalMetrics renders a bare metrics list with ISO-8601
// timestamps, the body shape sent to the metrics/encrypted endpoint
// before encryption: {"metrics": [...]}.
func MarshalMetrics(metrics []model.SecurityMetric) ([]byte, error) {
	data, err := json.Marshal(struct {
		Metrics []wireMetric `json:"metrics"`
	}{Metrics: toWireMetrics(metrics)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return data, nil
}
