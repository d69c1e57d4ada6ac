package domain

import "time"

// QueueStatus tracks a queued message through the ingestion pipeline.
type QueueStatus string

const (
	QueueStatusQueued QueueStatus = "queued"
	QueueStatusSent   QueueStatus = "sent"
	QueueStatusFailed QueueStatus = "failed"
)

// Lane selects which pipeline queue drains a message.
type Lane string

const (
	LaneNormal   Lane = "normal"
	LanePriority Lane = "priority"
)

// QueuedMessage wraps a not-yet-persisted message while it moves through the
// pipeline. It exists only in memory and is discarded on terminal success or
// after the retry budget is exhausted.
type QueuedMessage struct {
	CorrelationID string
	Message       Message
	Lane          Lane
	Attempts      int
	Status        QueueStatus
	EnqueuedAt    time.Time
}
