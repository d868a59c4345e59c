package devicetrust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tendant/simple-2fa/pkg/codestore"
	"github.com/tendant/simple-2fa/pkg/utils"
)

const (
	// DefaultTrustDuration is how long a remembered device stays exempt
	// from challenges unless the caller overrides it.
	DefaultTrustDuration = 90 * 24 * time.Hour
)

// Status is the outcome of validating a presented device token. Expired and
// unknown tokens both surface as StatusNotTrusted; the distinction is not
// exposed externally.
type Status int

const (
	StatusNotTrusted Status = iota
	StatusTrusted
)

func (s Status) String() string {
	if s == StatusTrusted {
		return "trusted"
	}
	return "not_trusted"
}

// TrustedDevice is the stored view of a remembered device. The raw token is
// never persisted; records are keyed by its hash.
type TrustedDevice struct {
	TokenHash   string    `json:"-"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired checks whether the trust record has lapsed at t.
func (d *TrustedDevice) IsExpired(t time.Time) bool {
	return t.After(d.ExpiresAt)
}

// Engine issues and validates signed, expiring device tokens. Tokens are
// HMAC-signed JWTs so a forged or tampered token is rejected before any
// store lookup; revocation works through the persisted token hash.
type Engine struct {
	store        codestore.Store
	signingKey   []byte
	defaultTrust time.Duration

	// Now is the clock source, overridable in tests.
	Now func() time.Time
}

// NewEngine creates a device-trust engine. signingKey must be non-empty.
func NewEngine(store codestore.Store, signingKey []byte, defaultTrust time.Duration) (*Engine, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("device trust signing key is required")
	}
	if defaultTrust <= 0 {
		defaultTrust = DefaultTrustDuration
	}
	return &Engine{
		store:        store,
		signingKey:   signingKey,
		defaultTrust: defaultTrust,
		Now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func deviceKey(identity, tokenHash string) codestore.Key {
	return codestore.Key{Identity: identity, Kind: codestore.KindDevice, Ref: tokenHash}
}

// Issue mints a raw device token for the identity and persists its hash with
// the fingerprint and expiry. The raw token is returned once for the caller
// to hand to the client; pass ttl <= 0 for the engine default.
func (e *Engine) Issue(ctx context.Context, identity, fingerprint string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = e.defaultTrust
	}

	now := e.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.New().String(),
	}
	rawToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}

	device := TrustedDevice{
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   expiresAt,
	}
	value, err := json.Marshal(device)
	if err != nil {
		return "", fmt.Errorf("failed to marshal device record: %w", err)
	}
	if _, err := e.store.Put(ctx, deviceKey(identity, utils.HashCode(rawToken)), value); err != nil {
		return "", fmt.Errorf("failed to store device record: %w", err)
	}

	slog.Info("Issued trusted device token", "identity", identity, "expiresAt", expiresAt)
	return rawToken, nil
}

// Validate checks a presented token: signature, expiry, subject, and the
// presence of an unexpired stored record. A valid presentation refreshes the
// record's last-used timestamp.
func (e *Engine) Validate(ctx context.Context, identity, rawToken string) (Status, error) {
	now := e.Now()

	token, err := jwt.ParseWithClaims(rawToken, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return e.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !token.Valid {
		return StatusNotTrusted, nil
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != identity {
		return StatusNotTrusted, nil
	}

	key := deviceKey(identity, utils.HashCode(rawToken))
	stored, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return StatusNotTrusted, nil
		}
		return StatusNotTrusted, fmt.Errorf("failed to load device record: %w", err)
	}

	var device TrustedDevice
	if err := json.Unmarshal(stored.Value, &device); err != nil {
		return StatusNotTrusted, fmt.Errorf("failed to unmarshal device record: %w", err)
	}
	if device.IsExpired(now) {
		if err := e.store.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete expired device record", "identity", identity, "error", err)
		}
		return StatusNotTrusted, nil
	}

	device.LastUsedAt = now
	if value, err := json.Marshal(device); err == nil {
		// Best effort; a lost race here does not affect the trust decision.
		if _, err := e.store.CompareAndSwap(ctx, key, value, stored.Version); err != nil &&
			!errors.Is(err, codestore.ErrConflict) && !errors.Is(err, codestore.ErrNotFound) {
			slog.Warn("Failed to update device last-used time", "identity", identity, "error", err)
		}
	}

	return StatusTrusted, nil
}

// Revoke forgets the device behind the presented token. Idempotent.
func (e *Engine) Revoke(ctx context.Context, identity, rawToken string) error {
	if err := e.store.Delete(ctx, deviceKey(identity, utils.HashCode(rawToken))); err != nil {
		return fmt.Errorf("failed to delete device record: %w", err)
	}
	slog.Info("Revoked trusted device", "identity", identity)
	return nil
}

// RevokeAll forgets every remembered device for the identity. Idempotent.
func (e *Engine) RevokeAll(ctx context.Context, identity string) error {
	if err := e.store.DeleteAll(ctx, identity, codestore.KindDevice); err != nil {
		return fmt.Errorf("failed to delete device records: %w", err)
	}
	slog.Info("Revoked all trusted devices", "identity", identity)
	return nil
}

// List returns the identity's remembered devices, including expired ones not
// yet cleaned up.
func (e *Engine) List(ctx context.Context, identity string) ([]TrustedDevice, error) {
	records, err := e.store.List(ctx, identity, codestore.KindDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to list device records: %w", err)
	}

	devices := make([]TrustedDevice, 0, len(records))
	for _, record := range records {
		var device TrustedDevice
		if err := json.Unmarshal(record.Value, &device); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device record: %w", err)
		}
		device.TokenHash = record.Key.Ref
		devices = append(devices, device)
	}
	return devices, nil
}
