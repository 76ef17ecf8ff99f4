package notification

import "context"

// NoopPublisher discards every event. Used when the message bus is
// disabled; services can always publish without nil checks.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that drops all events.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (*NoopPublisher) Publish(ctx context.Context, subject string, event any) error {
	return nil
}

func (*NoopPublisher) Close() error {
	return nil
}
