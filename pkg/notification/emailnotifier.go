package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the SMTP connection settings for email delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

const defaultEmailTemplate = "Your verification code is {{.Code}}. It expires shortly; do not share it."

// EmailNotifier delivers codes over SMTP.
type EmailNotifier struct {
	SMTPConfig SMTPConfig
	client     *mail.Client
	subject    string
	template   *template.Template
}

// NewEmailNotifier creates an SMTP email notifier. bodyTemplate may be empty
// to use a plain default; it receives .Code plus any Delivery.Data keys.
func NewEmailNotifier(config SMTPConfig, subject, bodyTemplate string) (*EmailNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if !config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		slog.Error("Failed to create mail client", "host", config.Host, "err", err)
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	if bodyTemplate == "" {
		bodyTemplate = defaultEmailTemplate
	}
	tmpl, err := template.New("email").Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	if subject == "" {
		subject = "Your verification code"
	}

	return &EmailNotifier{SMTPConfig: config, client: client, subject: subject, template: tmpl}, nil
}

func (e *EmailNotifier) Send(ctx context.Context, channel Channel, delivery Delivery) error {
	if channel != EmailChannel {
		return fmt.Errorf("email notifier cannot deliver channel: %s", channel)
	}
	if delivery.To == "" {
		return fmt.Errorf("email delivery requires 'To' address")
	}

	data := map[string]string{"Code": delivery.Code}
	for key, value := range delivery.Data {
		data[key] = value
	}
	var body bytes.Buffer
	if err := e.template.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render email body: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(e.SMTPConfig.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(delivery.To); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(e.subject)
	msg.SetBodyString(mail.TypeTextPlain, body.String())

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("Failed to send email", "to", delivery.To, "err", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("Sent verification email", "identity", delivery.Identity)
	return nil
}
