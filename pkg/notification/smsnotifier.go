package notification

import (
	"context"
	"fmt"
	"log/slog"
)

// SMSGateway sends one message to a phone number. Implementations wrap the
// host's SMS provider client (Twilio, SNS, etc.).
type SMSGateway func(ctx context.Context, to, from, body string) error

// SMSNotifier delivers codes through an SMS gateway.
type SMSNotifier struct {
	gateway SMSGateway
	from    string
}

// NewSMSNotifier creates an SMS notifier on the given gateway.
func NewSMSNotifier(gateway SMSGateway, from string) *SMSNotifier {
	return &SMSNotifier{gateway: gateway, from: from}
}

func (s *SMSNotifier) Send(ctx context.Context, channel Channel, delivery Delivery) error {
	if channel != SMSChannel {
		return fmt.Errorf("sms notifier cannot deliver channel: %s", channel)
	}
	if delivery.To == "" {
		return fmt.Errorf("sms delivery requires 'To' number")
	}

	body := fmt.Sprintf("Your verification code is %s", delivery.Code)
	if err := s.gateway(ctx, delivery.To, s.from, body); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}

	slog.Info("Sent verification sms", "identity", delivery.Identity)
	return nil
}
