package twofactor

import (
	"fmt"
	"time"

	"github.com/tendant/simple-2fa/pkg/oob"
	"github.com/tendant/simple-2fa/pkg/ratelimit"
	"github.com/tendant/simple-2fa/pkg/recovery"
	"github.com/tendant/simple-2fa/pkg/totp"
)

// Config enumerates every tunable of the engine. No defaults are buried in
// code paths; construct with DefaultConfig and override as needed.
type Config struct {
	// Issuer labels TOTP provisioning URIs (shown in authenticator apps).
	Issuer string

	// Method enablement. A disabled method rejects setup and verification
	// with ErrMethodNotEnabled.
	TOTPEnabled  bool
	EmailEnabled bool
	SMSEnabled   bool

	// TOTP tunables.
	TOTPPeriod uint // time-step length in seconds
	TOTPDigits int  // 6 or 8
	TOTPSkew   uint // drift window in steps either side of now

	// Out-of-band code tunables (email and SMS share them).
	OTPCodeLength  int
	OTPCodeTTL     time.Duration
	OTPMaxAttempts int // verification attempts before a challenge is voided

	// Recovery code tunables.
	RecoveryCodeCount  int
	RecoveryCodeLength int

	// Device trust tunables. SigningKey is required when device trust is
	// used; it signs device tokens and must be stable across processes.
	DeviceTrustTTL        time.Duration
	DeviceTrustSigningKey []byte

	// Rate limits per (identity, method). VerifyLimit guards code guessing,
	// SendLimit guards delivery-channel abuse.
	VerifyLimit ratelimit.Limit
	SendLimit   ratelimit.Limit
}

// DefaultConfig returns a Config with all methods enabled and conventional
// defaults: 30s/6-digit TOTP with a one-step drift window, 6-digit 5-minute
// out-of-band codes, ten 12-character recovery codes, 90-day device trust.
func DefaultConfig(issuer string, deviceSigningKey []byte) Config {
	return Config{
		Issuer:       issuer,
		TOTPEnabled:  true,
		EmailEnabled: true,
		SMSEnabled:   true,

		TOTPPeriod: totp.DefaultPeriod,
		TOTPDigits: totp.DefaultDigits,
		TOTPSkew:   totp.DefaultSkew,

		OTPCodeLength:  oob.DefaultCodeLength,
		OTPCodeTTL:     oob.DefaultCodeTTL,
		OTPMaxAttempts: oob.DefaultMaxAttempts,

		RecoveryCodeCount:  recovery.DefaultCodeCount,
		RecoveryCodeLength: recovery.DefaultCodeLength,

		DeviceTrustTTL:        90 * 24 * time.Hour,
		DeviceTrustSigningKey: deviceSigningKey,

		VerifyLimit: ratelimit.Limit{Threshold: 10, Window: 15 * time.Minute},
		SendLimit:   ratelimit.Limit{Threshold: 5, Window: 15 * time.Minute},
	}
}

// Validate reports configuration errors with enough context to fix them.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if !c.TOTPEnabled && !c.EmailEnabled && !c.SMSEnabled {
		return fmt.Errorf("at least one 2FA method must be enabled")
	}
	if c.TOTPEnabled {
		if c.TOTPPeriod == 0 {
			return fmt.Errorf("TOTP period must be positive")
		}
		if c.TOTPDigits != 6 && c.TOTPDigits != 8 {
			return fmt.Errorf("TOTP digits must be 6 or 8, got %d", c.TOTPDigits)
		}
	}
	if c.EmailEnabled || c.SMSEnabled {
		if c.OTPCodeLength < 4 {
			return fmt.Errorf("OTP code length must be at least 4, got %d", c.OTPCodeLength)
		}
		if c.OTPCodeTTL <= 0 {
			return fmt.Errorf("OTP code TTL must be positive")
		}
		if c.OTPMaxAttempts <= 0 {
			return fmt.Errorf("OTP max attempts must be positive")
		}
	}
	if c.RecoveryCodeCount <= 0 {
		return fmt.Errorf("recovery code count must be positive")
	}
	if c.RecoveryCodeLength < 10 {
		return fmt.Errorf("recovery code length must be at least 10, got %d", c.RecoveryCodeLength)
	}
	if len(c.DeviceTrustSigningKey) == 0 {
		return fmt.Errorf("device trust signing key is required")
	}
	if c.VerifyLimit.Threshold <= 0 || c.VerifyLimit.Window <= 0 {
		return fmt.Errorf("verify rate limit threshold and window must be positive")
	}
	if c.SendLimit.Threshold <= 0 || c.SendLimit.Window <= 0 {
		return fmt.Errorf("send rate limit threshold and window must be positive")
	}
	return nil
}

func (c Config) methodEnabled(method Method) bool {
	switch method {
	case MethodTOTP:
		return c.TOTPEnabled
	case MethodEmail:
		return c.EmailEnabled
	case MethodSMS:
		return c.SMSEnabled
	default:
		return false
	}
}
