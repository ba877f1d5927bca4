package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobStatusChanged is published on every status write; payload models.ExtractionJob
	EventJobStatusChanged EventType = "job_status_changed"
	// EventExtractionCompleted is published after the result sink accepted the orders; payload models.ExtractionResult
	EventExtractionCompleted EventType = "extraction_completed"
	// EventExtractionFailed is published when a run ends in error; payload models.ExtractionJob
	EventExtractionFailed EventType = "extraction_failed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish sends the event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	Close() error
}
