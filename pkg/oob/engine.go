package oob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-2fa/pkg/codestore"
	"github.com/tendant/simple-2fa/pkg/utils"
)

const (
	DefaultCodeLength  = 6
	DefaultCodeTTL     = 5 * time.Minute
	DefaultMaxAttempts = 5
)

// Outcome is the result of verifying an out-of-band code.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeVerified
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeExpired:
		return "expired"
	default:
		return "failed"
	}
}

// challengeRecord is the persisted state of an outstanding code. Only the
// hash of the code is stored.
type challengeRecord struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Engine generates and verifies out-of-band (email/SMS) codes. Delivery is
// the caller's concern; Generate hands the plaintext code back exactly once.
type Engine struct {
	store       codestore.Store
	codeLength  int
	codeTTL     time.Duration
	maxAttempts int

	// Now is the clock source, overridable in tests.
	Now func() time.Time
}

// NewEngine creates an out-of-band code engine.
func NewEngine(store codestore.Store, codeLength int, codeTTL time.Duration, maxAttempts int) *Engine {
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		store:       store,
		codeLength:  codeLength,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func challengeKey(identity, method string) codestore.Key {
	return codestore.Key{Identity: identity, Kind: codestore.KindChallenge, Ref: method}
}

// Generate draws a fresh random numeric code, persists its hash with an
// expiry, and returns the plaintext for dispatch. Any prior live challenge
// for the same identity and method is replaced; at most one challenge is
// live at a time.
func (e *Engine) Generate(ctx context.Context, identity, method string) (string, error) {
	code, err := utils.RandomDigits(e.codeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	now := e.Now()
	record := challengeRecord{
		CodeHash:  utils.HashCode(code),
		ExpiresAt: now.Add(e.codeTTL),
		CreatedAt: now,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if _, err := e.store.Put(ctx, challengeKey(identity, method), value); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	slog.Info("Issued out-of-band challenge", "identity", identity, "method", method, "expiresAt", record.ExpiresAt)
	return code, nil
}

// Verify checks the submitted code against the live challenge. A successful
// verification consumes the challenge; consumption is conditional on the
// record version, so concurrent submissions of the same code yield at most
// one OutcomeVerified. A mismatch increments the attempt counter, and
// reaching the attempt cap voids the challenge early.
func (e *Engine) Verify(ctx context.Context, identity, method, submittedCode string) (Outcome, error) {
	key := challengeKey(identity, method)

	for {
		stored, err := e.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, codestore.ErrNotFound) {
				return OutcomeFailed, nil
			}
			return OutcomeFailed, fmt.Errorf("failed to load challenge: %w", err)
		}

		var record challengeRecord
		if err := json.Unmarshal(stored.Value, &record); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to unmarshal challenge: %w", err)
		}

		if e.Now().After(record.ExpiresAt) {
			// Conditional on the version so a concurrent Generate that just
			// replaced the challenge is not wiped out here.
			err := e.store.CompareAndDelete(ctx, key, stored.Version)
			if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
				continue
			}
			if err != nil {
				return OutcomeFailed, fmt.Errorf("failed to delete expired challenge: %w", err)
			}
			slog.Info("Out-of-band challenge expired", "identity", identity, "method", method)
			return OutcomeExpired, nil
		}

		if utils.ConstantTimeEqual(utils.HashCode(submittedCode), record.CodeHash) {
			err := e.store.CompareAndDelete(ctx, key, stored.Version)
			if errors.Is(err, codestore.ErrConflict) {
				// Lost a race with a concurrent attempt; re-read and retry.
				continue
			}
			if errors.Is(err, codestore.ErrNotFound) {
				// Someone else consumed the challenge first.
				return OutcomeFailed, nil
			}
			if err != nil {
				return OutcomeFailed, fmt.Errorf("failed to consume challenge: %w", err)
			}
			return OutcomeVerified, nil
		}

		record.Attempts++
		if record.Attempts >= e.maxAttempts {
			err := e.store.CompareAndDelete(ctx, key, stored.Version)
			if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
				continue
			}
			if err != nil {
				return OutcomeFailed, fmt.Errorf("failed to void challenge: %w", err)
			}
			slog.Warn("Out-of-band challenge voided after max attempts", "identity", identity, "method", method, "attempts", record.Attempts)
			return OutcomeFailed, nil
		}

		value, err := json.Marshal(record)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to marshal challenge: %w", err)
		}
		_, err = e.store.CompareAndSwap(ctx, key, value, stored.Version)
		if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to record attempt: %w", err)
		}
		return OutcomeFailed, nil
	}
}

// Invalidate discards the live challenge, if any.
func (e *Engine) Invalidate(ctx context.Context, identity, method string) error {
	if err := e.store.Delete(ctx, challengeKey(identity, method)); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}
