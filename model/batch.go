package model

import "time"

// EventBatch is the unit of transport: an ordered snapshot of events and
// metrics taken by a single buffer flush.
type EventBatch struct {
	Events         []SecurityEvent  `json:"events,omitempty"`
	Metrics        []SecurityMetric `json:"metrics,omitempty"`
	BatchTimestamp float64          `json:"batch_timestamp"`
	ProjectID      string           `json:"project_id"`
}

// NewEventBatch builds a batch stamped with the current time.
func NewEventBatch(projectID string, events []SecurityEvent, metrics []SecurityMetric, now func() time.Time) EventBatch {
	return EventBatch{
		Events:         events,
		Metrics:        metrics,
		BatchTimestamp: float64(now().UnixNano()) / float64(time.Second),
		ProjectID:      projectID,
	}
}

// Empty reports whether the batch carries neither events nor metrics.
func (b EventBatch) Empty() bool {
	return len(b.Events) == 0 && len(b.Metrics) == 0
}

// Len returns the total number of events and metrics in the batch.
func (b EventBatch) Len() int {
	return len(b.Events) + len(b.Metrics)
}
