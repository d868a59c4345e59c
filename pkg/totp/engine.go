package totp

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultPeriod     = 30
	DefaultDigits     = 6
	DefaultSkew       = 1
	DefaultSecretSize = 20 // 160 bits, per RFC 4226 recommendation
)

// Engine generates TOTP secrets and validates time-step codes. TOTP carries
// no server-side challenge state; only the shared secret is persisted by the
// caller.
type Engine struct {
	issuer     string
	period     uint
	digits     otp.Digits
	skew       uint
	secretSize uint
}

// Option configures an Engine.
type Option func(*Engine)

// WithPeriod sets the time-step length in seconds.
func WithPeriod(seconds uint) Option {
	return func(e *Engine) {
		e.period = seconds
	}
}

// WithDigits sets the code length (6 or 8).
func WithDigits(digits int) Option {
	return func(e *Engine) {
		if digits == 8 {
			e.digits = otp.DigitsEight
		} else {
			e.digits = otp.DigitsSix
		}
	}
}

// WithSkew sets the drift window in time-steps on either side of now.
func WithSkew(steps uint) Option {
	return func(e *Engine) {
		e.skew = steps
	}
}

// NewEngine creates a TOTP engine for the given issuer.
func NewEngine(issuer string, opts ...Option) *Engine {
	engine := &Engine{
		issuer:     issuer,
		period:     DefaultPeriod,
		digits:     otp.DigitsSix,
		skew:       DefaultSkew,
		secretSize: DefaultSecretSize,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// GenerateSecret generates a new base32-encoded shared secret for an
// identity.
func (e *Engine) GenerateSecret(identity string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: identity,
		Period:      e.period,
		Digits:      e.digits,
		SecretSize:  e.secretSize,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "identity", identity, "issuer", e.issuer, "error", err)
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	slog.Info("Generated new totp secret", "identity", identity)
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth:// URI for QR rendering. No I/O side
// effects; rendering is the caller's concern.
func (e *Engine) ProvisioningURI(identity, secret string) string {
	label := url.PathEscape(e.issuer + ":" + identity)
	params := url.Values{}
	params.Set("secret", secret)
	params.Set("issuer", e.issuer)
	params.Set("algorithm", "SHA1")
	params.Set("digits", e.digits.String())
	params.Set("period", fmt.Sprintf("%d", e.period))
	return "otpauth://totp/" + label + "?" + params.Encode()
}

// CurrentCode computes the code for the time step containing t.
func (e *Engine) CurrentCode(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t.UTC(), e.validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// VerifyCode reports whether the submitted code is valid for the time step
// containing t or any step within the drift window. The underlying
// comparison is constant-time.
func (e *Engine) VerifyCode(secret, submittedCode string, t time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(submittedCode, secret, t.UTC(), e.validateOpts())
	if err != nil {
		if err == otp.ErrValidateInputInvalidLength {
			return false, nil
		}
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	return valid, nil
}

func (e *Engine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Skew:      e.skew,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}
