package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-2fa/pkg/codestore"
	"github.com/tendant/simple-2fa/pkg/devicetrust"
	"github.com/tendant/simple-2fa/pkg/notification"
	"github.com/tendant/simple-2fa/pkg/oob"
	"github.com/tendant/simple-2fa/pkg/ratelimit"
	"github.com/tendant/simple-2fa/pkg/recovery"
	"github.com/tendant/simple-2fa/pkg/totp"
	"github.com/tendant/simple-2fa/pkg/utils"
)

// secretRecord is the persisted per-(identity, method) secret state. For
// TOTP, Secret is the shared base32 secret; for out-of-band methods it is
// empty and Destination holds the delivery address.
type secretRecord struct {
	Secret      string    `json:"secret,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service is the two-factor manager: the single entry point external
// collaborators (middleware, controllers) talk to. It orchestrates the
// method engines behind the per-method state machine
// NotSetup -> PendingConfirmation -> Enabled.
type Service struct {
	store    codestore.Store
	notifier notification.Notifier
	config   Config

	totpEngine     *totp.Engine
	oobEngine      *oob.Engine
	recoveryEngine *recovery.Engine
	deviceEngine   *devicetrust.Engine
	limiter        *ratelimit.Limiter

	audit AuditSink
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuditSink installs a sink for structured audit events.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) {
		s.audit = sink
	}
}

// WithClock overrides the clock source; the override propagates to every
// engine. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the two-factor manager on the given store and delivery
// collaborator. The notifier may be nil when no out-of-band method is
// enabled.
func NewService(store codestore.Store, notifier notification.Notifier, config Config, opts ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if notifier == nil && (config.EmailEnabled || config.SMSEnabled) {
		return nil, fmt.Errorf("invalid configuration: notifier is required when email or SMS is enabled")
	}

	deviceEngine, err := devicetrust.NewEngine(store, config.DeviceTrustSigningKey, config.DeviceTrustTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	service := &Service{
		store:    store,
		notifier: notifier,
		config:   config,
		totpEngine: totp.NewEngine(config.Issuer,
			totp.WithPeriod(config.TOTPPeriod),
			totp.WithDigits(config.TOTPDigits),
			totp.WithSkew(config.TOTPSkew),
		),
		oobEngine:      oob.NewEngine(store, config.OTPCodeLength, config.OTPCodeTTL, config.OTPMaxAttempts),
		recoveryEngine: recovery.NewEngine(store, config.RecoveryCodeCount, config.RecoveryCodeLength),
		deviceEngine:   deviceEngine,
		limiter:        ratelimit.NewLimiter(store),
		audit:          noopAudit{},
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(service)
	}
	service.oobEngine.Now = service.now
	service.recoveryEngine.Now = service.now
	service.deviceEngine.Now = service.now
	service.limiter.Now = service.now

	return service, nil
}

func secretKey(identity string, method Method) codestore.Key {
	return codestore.Key{Identity: identity, Kind: codestore.KindSecret, Ref: string(method)}
}

// BeginSetup creates or replaces the unconfirmed secret for the method. For
// TOTP it returns the secret and provisioning URI; for email/SMS it
// dispatches a setup code to opts.Destination. An unconfirmed prior setup
// for the same method is superseded, never merged.
func (s *Service) BeginSetup(ctx context.Context, identity string, method Method, opts SetupOptions) (SetupMaterial, error) {
	if err := ValidateMethod(method); err != nil {
		return SetupMaterial{}, err
	}
	if !s.config.methodEnabled(method) {
		return SetupMaterial{}, fmt.Errorf("%w: %s", ErrMethodNotEnabled, method)
	}

	existing, err := s.getSecret(ctx, identity, method)
	if err != nil && !errors.Is(err, codestore.ErrNotFound) {
		return SetupMaterial{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err == nil && existing.Confirmed {
		return SetupMaterial{}, fmt.Errorf("%w: %s", ErrAlreadyEnabled, method)
	}

	switch method {
	case MethodTOTP:
		return s.beginTOTPSetup(ctx, identity)
	default:
		return s.beginOutOfBandSetup(ctx, identity, method, opts)
	}
}

func (s *Service) beginTOTPSetup(ctx context.Context, identity string) (SetupMaterial, error) {
	secret, err := s.totpEngine.GenerateSecret(identity)
	if err != nil {
		return SetupMaterial{}, err
	}

	if err := s.putSecret(ctx, identity, MethodTOTP, secretRecord{
		Secret:    secret,
		CreatedAt: s.now(),
	}); err != nil {
		return SetupMaterial{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	return SetupMaterial{
		Method:          MethodTOTP,
		Outcome:         OutcomeIssued,
		Secret:          secret,
		ProvisioningURI: s.totpEngine.ProvisioningURI(identity, secret),
	}, nil
}

func (s *Service) beginOutOfBandSetup(ctx context.Context, identity string, method Method, opts SetupOptions) (SetupMaterial, error) {
	if opts.Destination == "" {
		return SetupMaterial{}, fmt.Errorf("destination is required to set up %s", method)
	}

	decision, err := s.limiter.CheckAndIncrement(ctx, identity, string(method), ratelimit.ClassSend, s.config.SendLimit)
	if err != nil {
		return SetupMaterial{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !decision.Allowed {
		s.record(identity, string(method), "begin_setup", OutcomeRateLimited)
		return SetupMaterial{Method: method, Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	if err := s.putSecret(ctx, identity, method, secretRecord{
		Destination: opts.Destination,
		CreatedAt:   s.now(),
	}); err != nil {
		return SetupMaterial{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if err := s.dispatchCode(ctx, identity, method, opts.Destination); err != nil {
		return SetupMaterial{}, err
	}

	return SetupMaterial{
		Method:      method,
		Outcome:     OutcomeIssued,
		Destination: maskDestination(method, opts.Destination),
		Delivered:   true,
	}, nil
}

// ConfirmSetup validates the submitted code against the pending setup. On
// success the secret is promoted to confirmed; enabling the identity's first
// method also generates the initial recovery-code batch, returned exactly
// once. Failures report OutcomeFailed without revealing which part of
// validation failed.
func (s *Service) ConfirmSetup(ctx context.Context, identity string, method Method, code string) (ConfirmResult, error) {
	if err := ValidateMethod(method); err != nil {
		return ConfirmResult{}, err
	}
	if !s.config.methodEnabled(method) {
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrMethodNotEnabled, method)
	}

	decision, err := s.limiter.CheckAndIncrement(ctx, identity, string(method), ratelimit.ClassVerify, s.config.VerifyLimit)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !decision.Allowed {
		s.record(identity, string(method), "confirm_setup", OutcomeRateLimited)
		return ConfirmResult{Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	stored, err := s.store.Get(ctx, secretKey(identity, method))
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return ConfirmResult{}, fmt.Errorf("%w: %s", ErrNotSetup, method)
		}
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	var record secretRecord
	if err := json.Unmarshal(stored.Value, &record); err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if record.Confirmed {
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrAlreadyEnabled, method)
	}

	outcome, err := s.checkCode(ctx, identity, method, record, code)
	if err != nil {
		return ConfirmResult{}, err
	}
	if outcome != OutcomeVerified {
		s.record(identity, string(method), "confirm_setup", outcome)
		return ConfirmResult{Outcome: outcome}, nil
	}

	record.Confirmed = true
	value, err := json.Marshal(record)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if _, err := s.store.CompareAndSwap(ctx, secretKey(identity, method), value, stored.Version); err != nil {
		if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
			// Setup was superseded or disabled while confirming.
			s.record(identity, string(method), "confirm_setup", OutcomeFailed)
			return ConfirmResult{Outcome: OutcomeFailed}, nil
		}
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if err := s.limiter.Reset(ctx, identity, string(method), ratelimit.ClassVerify); err != nil {
		slog.Warn("Failed to reset verify limiter", "identity", identity, "method", method, "error", err)
	}

	result := ConfirmResult{Outcome: OutcomeEnabled}

	// The first enabled method brings the initial recovery batch with it.
	others, err := s.confirmedMethods(ctx, identity)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if len(others) == 1 && others[0] == method {
		codes, err := s.recoveryEngine.GenerateBatch(ctx, identity)
		if err != nil {
			return ConfirmResult{}, fmt.Errorf("%w: %w", ErrStore, err)
		}
		result.RecoveryCodes = codes
	}

	slog.Info("2FA method enabled", "identity", identity, "method", method)
	s.record(identity, string(method), "confirm_setup", OutcomeEnabled)
	return result, nil
}

// Challenge prepares a login challenge. TOTP needs no server-side state, so
// it is a no-op issue; out-of-band methods generate and dispatch a fresh
// code, invalidating any prior live challenge for the method.
func (s *Service) Challenge(ctx context.Context, identity string, method Method) (ChallengeResult, error) {
	record, err := s.requireEnabled(ctx, identity, method)
	if err != nil {
		return ChallengeResult{}, err
	}

	if !method.OutOfBand() {
		return ChallengeResult{Method: method, Outcome: OutcomeIssued}, nil
	}

	decision, err := s.limiter.CheckAndIncrement(ctx, identity, string(method), ratelimit.ClassSend, s.config.SendLimit)
	if err != nil {
		return ChallengeResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !decision.Allowed {
		s.record(identity, string(method), "challenge", OutcomeRateLimited)
		return ChallengeResult{Method: method, Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	if err := s.dispatchCode(ctx, identity, method, record.Destination); err != nil {
		return ChallengeResult{}, err
	}

	s.record(identity, string(method), "challenge", OutcomeIssued)
	return ChallengeResult{
		Method:      method,
		Outcome:     OutcomeIssued,
		Delivered:   true,
		Destination: maskDestination(method, record.Destination),
	}, nil
}

// Verify checks a submitted login code. The rate limiter is consulted before
// any code material is touched, so a limited caller learns nothing about
// code validity. On success the challenge is consumed, the verify budget
// reset, and a trusted-device token issued when requested.
func (s *Service) Verify(ctx context.Context, identity string, method Method, code string, opts VerifyOptions) (VerifyResult, error) {
	if err := ValidateMethod(method); err != nil {
		return VerifyResult{}, err
	}

	decision, err := s.limiter.CheckAndIncrement(ctx, identity, string(method), ratelimit.ClassVerify, s.config.VerifyLimit)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !decision.Allowed {
		s.record(identity, string(method), "verify", OutcomeRateLimited)
		return VerifyResult{Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	record, err := s.requireEnabled(ctx, identity, method)
	if err != nil {
		return VerifyResult{}, err
	}

	outcome, err := s.checkCode(ctx, identity, method, record, code)
	if err != nil {
		return VerifyResult{}, err
	}
	if outcome != OutcomeVerified {
		s.record(identity, string(method), "verify", outcome)
		return VerifyResult{Outcome: outcome}, nil
	}

	if err := s.limiter.Reset(ctx, identity, string(method), ratelimit.ClassVerify); err != nil {
		slog.Warn("Failed to reset verify limiter", "identity", identity, "method", method, "error", err)
	}

	result := VerifyResult{Outcome: OutcomeVerified}
	if opts.RememberDevice {
		token, err := s.deviceEngine.Issue(ctx, identity, opts.Fingerprint, opts.TrustTTL)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("%w: %w", ErrStore, err)
		}
		result.DeviceToken = token
	}

	s.record(identity, string(method), "verify", OutcomeVerified)
	return result, nil
}

// VerifyRecoveryCode consumes a single-use recovery code. A valid code is
// consumed even if the host later fails the surrounding login flow: once
// revealed as valid it must never be accepted again. Used and unknown codes
// both report OutcomeFailed to prevent codebook enumeration.
func (s *Service) VerifyRecoveryCode(ctx context.Context, identity, code string) (VerifyResult, error) {
	decision, err := s.limiter.CheckAndIncrement(ctx, identity, methodRecovery, ratelimit.ClassVerify, s.config.VerifyLimit)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !decision.Allowed {
		s.record(identity, methodRecovery, "verify_recovery", OutcomeRateLimited)
		return VerifyResult{Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter}, nil
	}

	result, err := s.recoveryEngine.Consume(ctx, identity, code)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	// Audit keeps the used/invalid distinction; the caller-facing outcome
	// does not.
	s.record(identity, methodRecovery, "verify_recovery", Outcome(result.String()))

	if result != recovery.ResultVerified {
		return VerifyResult{Outcome: OutcomeFailed}, nil
	}

	if err := s.limiter.Reset(ctx, identity, methodRecovery, ratelimit.ClassVerify); err != nil {
		slog.Warn("Failed to reset recovery limiter", "identity", identity, "error", err)
	}
	return VerifyResult{Outcome: OutcomeVerified}, nil
}

// RegenerateRecoveryCodes replaces the identity's recovery batch. Every code
// from the prior batch becomes invalid in the same write.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, identity string) ([]string, error) {
	methods, err := s.confirmedMethods(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no enabled method", ErrNotSetup)
	}

	codes, err := s.recoveryEngine.GenerateBatch(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	s.record(identity, methodRecovery, "regenerate", OutcomeIssued)
	return codes, nil
}

// RecoveryCodeStatus reports how many recovery codes remain unused. Whether
// zero remaining should force regeneration before the next login is host
// policy; the engine only reports the count.
func (s *Service) RecoveryCodeStatus(ctx context.Context, identity string) (RecoveryStatus, error) {
	remaining, err := s.recoveryEngine.Remaining(ctx, identity)
	if err != nil {
		return RecoveryStatus{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return RecoveryStatus{Remaining: remaining}, nil
}

// Disable removes the method's secret and any live challenge. Disabling the
// identity's last enabled method also removes recovery codes and trusted
// devices, returning the identity to a clean NotSetup state. Idempotent.
func (s *Service) Disable(ctx context.Context, identity string, method Method) error {
	if err := ValidateMethod(method); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, secretKey(identity, method)); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := s.oobEngine.Invalidate(ctx, identity, string(method)); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	for _, class := range []ratelimit.Class{ratelimit.ClassVerify, ratelimit.ClassSend} {
		if err := s.limiter.Reset(ctx, identity, string(method), class); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
	}

	remaining, err := s.confirmedMethods(ctx, identity)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if len(remaining) == 0 {
		if err := s.recoveryEngine.DeleteBatch(ctx, identity); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		if err := s.deviceEngine.RevokeAll(ctx, identity); err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
	}

	slog.Info("2FA method disabled", "identity", identity, "method", method)
	s.record(identity, string(method), "disable", OutcomeIssued)
	return nil
}

// DisableAll removes every 2FA record for the identity: secrets, challenges,
// recovery codes, trusted devices, and rate-limit counters. Idempotent.
func (s *Service) DisableAll(ctx context.Context, identity string) error {
	err := s.store.DeleteAll(ctx, identity,
		codestore.KindSecret,
		codestore.KindChallenge,
		codestore.KindRecovery,
		codestore.KindDevice,
		codestore.KindRateLimit,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Info("All 2FA disabled", "identity", identity)
	s.record(identity, "", "disable_all", OutcomeIssued)
	return nil
}

// EnabledMethods lists the identity's confirmed methods, for hosts building
// challenge UIs.
func (s *Service) EnabledMethods(ctx context.Context, identity string) ([]Method, error) {
	methods, err := s.confirmedMethods(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return methods, nil
}

// State reports the setup state for one method.
func (s *Service) State(ctx context.Context, identity string, method Method) (MethodState, error) {
	if err := ValidateMethod(method); err != nil {
		return "", err
	}

	record, err := s.getSecret(ctx, identity, method)
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return StateNotSetup, nil
		}
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	if record.Confirmed {
		return StateEnabled, nil
	}
	return StatePendingConfirmation, nil
}

// IsTrustedDevice reports whether the presented device token exempts the
// identity from a challenge. Used by host middleware.
func (s *Service) IsTrustedDevice(ctx context.Context, identity, deviceToken string) (bool, error) {
	status, err := s.deviceEngine.Validate(ctx, identity, deviceToken)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return status == devicetrust.StatusTrusted, nil
}

// TrustedDevices lists the identity's remembered devices.
func (s *Service) TrustedDevices(ctx context.Context, identity string) ([]devicetrust.TrustedDevice, error) {
	devices, err := s.deviceEngine.List(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return devices, nil
}

// ForgetDevice revokes trust for the device behind the token. Idempotent.
func (s *Service) ForgetDevice(ctx context.Context, identity, deviceToken string) error {
	if err := s.deviceEngine.Revoke(ctx, identity, deviceToken); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// ForgetAllDevices revokes trust for every remembered device. Idempotent.
func (s *Service) ForgetAllDevices(ctx context.Context, identity string) error {
	if err := s.deviceEngine.RevokeAll(ctx, identity); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// checkCode validates a submitted code against the method's secret material,
// mapping engine outcomes onto the public Outcome set.
func (s *Service) checkCode(ctx context.Context, identity string, method Method, record secretRecord, code string) (Outcome, error) {
	if method == MethodTOTP {
		valid, err := s.totpEngine.VerifyCode(record.Secret, code, s.now())
		if err != nil {
			return OutcomeFailed, err
		}
		if !valid {
			return OutcomeFailed, nil
		}
		return OutcomeVerified, nil
	}

	outcome, err := s.oobEngine.Verify(ctx, identity, string(method), code)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrStore, err)
	}
	switch outcome {
	case oob.OutcomeVerified:
		return OutcomeVerified, nil
	case oob.OutcomeExpired:
		return OutcomeExpired, nil
	default:
		return OutcomeFailed, nil
	}
}

// dispatchCode generates an out-of-band challenge and hands the plaintext
// code to the delivery collaborator. Delivery failures surface as
// ErrDelivery; the engine does not retry.
func (s *Service) dispatchCode(ctx context.Context, identity string, method Method, destination string) error {
	code, err := s.oobEngine.Generate(ctx, identity, string(method))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	channel := notification.EmailChannel
	if method == MethodSMS {
		channel = notification.SMSChannel
	}
	err = s.notifier.Send(ctx, channel, notification.Delivery{
		To:       destination,
		Identity: identity,
		Code:     code,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (s *Service) requireEnabled(ctx context.Context, identity string, method Method) (secretRecord, error) {
	if err := ValidateMethod(method); err != nil {
		return secretRecord{}, err
	}
	if !s.config.methodEnabled(method) {
		return secretRecord{}, fmt.Errorf("%w: %s", ErrMethodNotEnabled, method)
	}

	record, err := s.getSecret(ctx, identity, method)
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return secretRecord{}, fmt.Errorf("%w: %s", ErrNotSetup, method)
		}
		return secretRecord{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !record.Confirmed {
		return secretRecord{}, fmt.Errorf("%w: %s pending confirmation", ErrNotSetup, method)
	}
	return record, nil
}

func (s *Service) getSecret(ctx context.Context, identity string, method Method) (secretRecord, error) {
	stored, err := s.store.Get(ctx, secretKey(identity, method))
	if err != nil {
		return secretRecord{}, err
	}
	var record secretRecord
	if err := json.Unmarshal(stored.Value, &record); err != nil {
		return secretRecord{}, fmt.Errorf("failed to unmarshal secret record: %w", err)
	}
	return record, nil
}

func (s *Service) putSecret(ctx context.Context, identity string, method Method, record secretRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal secret record: %w", err)
	}
	if _, err := s.store.Put(ctx, secretKey(identity, method), value); err != nil {
		return fmt.Errorf("failed to store secret record: %w", err)
	}
	return nil
}

func (s *Service) confirmedMethods(ctx context.Context, identity string) ([]Method, error) {
	records, err := s.store.List(ctx, identity, codestore.KindSecret)
	if err != nil {
		return nil, err
	}

	var methods []Method
	for _, stored := range records {
		var record secretRecord
		if err := json.Unmarshal(stored.Value, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secret record: %w", err)
		}
		if record.Confirmed {
			methods = append(methods, Method(stored.Key.Ref))
		}
	}
	return methods, nil
}

func (s *Service) record(identity, method, operation string, outcome Outcome) {
	s.audit.Record(AuditEvent{
		Identity:  identity,
		Method:    method,
		Operation: operation,
		Outcome:   string(outcome),
		At:        s.now(),
	})
}

func maskDestination(method Method, destination string) string {
	if method == MethodSMS {
		return utils.MaskPhone(destination)
	}
	return utils.MaskEmail(destination)
}
