package notification

import (
	"context"
	"sync"
)

// MockNotifier records deliveries instead of sending them. Used in tests and
// the demo binary.
type MockNotifier struct {
	mutex      sync.Mutex
	deliveries []RecordedDelivery

	// FailWith, when set, makes every Send return that error.
	FailWith error
}

// RecordedDelivery is one captured send.
type RecordedDelivery struct {
	Channel  Channel
	Delivery Delivery
}

// NewMockNotifier creates an empty recording notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Send(ctx context.Context, channel Channel, delivery Delivery) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	m.deliveries = append(m.deliveries, RecordedDelivery{Channel: channel, Delivery: delivery})
	return nil
}

// Deliveries returns all captured sends.
func (m *MockNotifier) Deliveries() []RecordedDelivery {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	captured := make([]RecordedDelivery, len(m.deliveries))
	copy(captured, m.deliveries)
	return captured
}

// LastCode returns the code of the most recent delivery, or "".
func (m *MockNotifier) LastCode() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.deliveries) == 0 {
		return ""
	}
	return m.deliveries[len(m.deliveries)-1].Delivery.Code
}
