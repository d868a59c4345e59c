package twofactor

import (
	"errors"
	"fmt"
	"time"
)

// Method is one of the closed set of second-factor methods.
type Method string

const (
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
)

// methodRecovery keys rate-limit counters for recovery-code attempts. It is
// not a settable method.
const methodRecovery = "recovery"

// ValidateMethod checks that the given method is a known 2FA method.
func ValidateMethod(method Method) error {
	switch method {
	case MethodTOTP, MethodEmail, MethodSMS:
		return nil
	default:
		return fmt.Errorf("invalid 2FA method: %s, must be one of: %s, %s, %s",
			method, MethodTOTP, MethodEmail, MethodSMS)
	}
}

// OutOfBand reports whether the method delivers codes through an external
// channel.
func (m Method) OutOfBand() bool {
	return m == MethodEmail || m == MethodSMS
}

// Sentinel errors for configuration/state faults. Expected validation
// outcomes (wrong code, expired challenge, rate limited) are returned as
// result values, never as errors.
var (
	// ErrMethodNotEnabled indicates the method is disabled in configuration.
	ErrMethodNotEnabled = errors.New("twofactor: method not enabled")
	// ErrAlreadyEnabled indicates a confirmed secret already exists.
	ErrAlreadyEnabled = errors.New("twofactor: method already enabled")
	// ErrNotSetup indicates no pending or confirmed secret exists.
	ErrNotSetup = errors.New("twofactor: method not set up")
	// ErrStore marks infrastructure failures of the code store.
	ErrStore = errors.New("twofactor: storage failure")
	// ErrDelivery marks failures of the delivery collaborator.
	ErrDelivery = errors.New("twofactor: delivery failure")
)

// Outcome is the closed set of expected results of public operations.
type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeEnabled     Outcome = "enabled"
	OutcomeIssued      Outcome = "issued"
	OutcomeFailed      Outcome = "failed"
	OutcomeExpired     Outcome = "expired"
	OutcomeRateLimited Outcome = "rate_limited"
)

// MethodState is the per-(identity, method) setup state.
type MethodState string

const (
	StateNotSetup            MethodState = "not_setup"
	StatePendingConfirmation MethodState = "pending_confirmation"
	StateEnabled             MethodState = "enabled"
)

// SetupOptions carries optional inputs to BeginSetup.
type SetupOptions struct {
	// Destination is the email address or phone number for out-of-band
	// methods. Required for email/SMS, ignored for TOTP.
	Destination string
}

// SetupMaterial is what BeginSetup hands back for the host to present.
type SetupMaterial struct {
	Method          Method
	Outcome         Outcome
	RetryAfter      time.Duration // set when Outcome is OutcomeRateLimited
	Secret          string        // TOTP only; show once
	ProvisioningURI string        // TOTP only; render as QR
	Destination     string        // out-of-band only; masked for display
	Delivered       bool          // out-of-band only
}

// ConfirmResult is the outcome of ConfirmSetup.
type ConfirmResult struct {
	Outcome       Outcome
	RetryAfter    time.Duration
	RecoveryCodes []string // set once, when enabling creates the initial batch
}

// ChallengeResult is the outcome of Challenge.
type ChallengeResult struct {
	Method      Method
	Outcome     Outcome
	RetryAfter  time.Duration
	Delivered   bool   // false for TOTP (stateless, nothing to send)
	Destination string // masked, out-of-band only
}

// VerifyOptions carries optional inputs to Verify.
type VerifyOptions struct {
	// RememberDevice requests a trusted-device token on success.
	RememberDevice bool
	// Fingerprint identifies the device being remembered.
	Fingerprint string
	// TrustTTL overrides the configured device-trust lifetime when > 0.
	TrustTTL time.Duration
}

// VerifyResult is the outcome of Verify and VerifyRecoveryCode.
type VerifyResult struct {
	Outcome     Outcome
	RetryAfter  time.Duration
	DeviceToken string // set when a device was remembered; hand to client once
}

// RecoveryStatus reports the state of the identity's recovery-code batch.
type RecoveryStatus struct {
	Remaining int
}

// AuditEvent is a structured record of an operation outcome for the host's
// observability pipeline. It never carries codes, secrets, or tokens.
type AuditEvent struct {
	Identity  string
	Method    string
	Operation string
	Outcome   string
	At        time.Time
}

// AuditSink receives audit events. Implementations must not block.
type AuditSink interface {
	Record(event AuditEvent)
}

type noopAudit struct{}

func (noopAudit) Record(AuditEvent) {}
