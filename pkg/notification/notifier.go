package notification

import "context"

// Channel is the delivery channel for an out-of-band code.
type Channel string

const (
	EmailChannel Channel = "email"
	SMSChannel   Channel = "sms"
)

// Delivery carries one plaintext code to a destination. The engine hands it
// to the notifier and forgets it; rendering, retry and backoff policies
// belong to the notifier implementation or the transport behind it.
type Delivery struct {
	To       string            // destination (email address, phone number)
	Identity string            // opaque identity reference, for audit context
	Code     string            // plaintext one-time code
	Data     map[string]string // optional extra template data
}

// Notifier is the delivery collaborator contract. Failures are surfaced to
// the engine's caller; the engine does not retry.
type Notifier interface {
	Send(ctx context.Context, channel Channel, delivery Delivery) error
}
