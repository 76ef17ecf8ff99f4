package notification

import (
	"context"
	"sync"
)

// MockPublisher records published events for assertions in tests.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, subject string, event any) error

	mu     sync.Mutex
	events []PublishedEvent
}

// PublishedEvent is one recorded publish call.
type PublishedEvent struct {
	Subject string
	Event   any
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, event any) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, subject, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{Subject: subject, Event: event})
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns a copy of every recorded publish.
func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.events...)
}

// Subjects returns the subjects published, in order.
func (m *MockPublisher) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	subjects := make([]string, len(m.events))
	for i, e := range m.events {
		subjects[i] = e.Subject
	}
	return subjects
}
