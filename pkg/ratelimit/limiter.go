package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-2fa/pkg/codestore"
)

// Class separates attempt budgets for different operation kinds on the same
// identity and method.
type Class string

const (
	// ClassVerify covers code verification attempts (guessing protection).
	ClassVerify Class = "verify"
	// ClassSend covers out-of-band code dispatch (delivery cost protection).
	ClassSend Class = "send"
)

// Limit is a fixed-window budget: at most Threshold operations per Window.
type Limit struct {
	Threshold int
	Window    time.Duration
}

// Decision is the outcome of a CheckAndIncrement call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // set when not allowed
}

// counterRecord is the persisted window state.
type counterRecord struct {
	WindowStart time.Time `json:"window_start"`
	Attempts    int       `json:"attempt_count"`
}

// casRetries bounds the retry loop on conditional-write races. Contention is
// per identity, so a handful of retries is plenty.
const casRetries = 8

// Limiter tracks attempt counts in fixed windows persisted through the code
// store. Check-then-increment rides on the store's conditional writes, so
// two concurrent checks cannot both slip under the threshold even across
// host processes.
type Limiter struct {
	store codestore.Store

	// Now is the clock source, overridable in tests.
	Now func() time.Time
}

// NewLimiter creates a limiter on the given store.
func NewLimiter(store codestore.Store) *Limiter {
	return &Limiter{
		store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func counterKey(identity, method string, class Class) codestore.Key {
	return codestore.Key{
		Identity: identity,
		Kind:     codestore.KindRateLimit,
		Ref:      method + ":" + string(class),
	}
}

// CheckAndIncrement consumes one attempt from the window budget, creating or
// resetting the window as needed. Returns a Limited decision with the time
// until the window resets when the threshold has been reached.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identity, method string, class Class, limit Limit) (Decision, error) {
	if limit.Threshold <= 0 || limit.Window <= 0 {
		return Decision{}, fmt.Errorf("invalid rate limit: threshold=%d window=%s", limit.Threshold, limit.Window)
	}

	key := counterKey(identity, method, class)

	for attempt := 0; attempt < casRetries; attempt++ {
		now := l.Now()

		stored, err := l.store.Get(ctx, key)
		if errors.Is(err, codestore.ErrNotFound) {
			value, err := json.Marshal(counterRecord{WindowStart: now, Attempts: 1})
			if err != nil {
				return Decision{}, fmt.Errorf("failed to marshal counter: %w", err)
			}
			_, err = l.store.PutIfAbsent(ctx, key, value)
			if errors.Is(err, codestore.ErrConflict) {
				continue
			}
			if err != nil {
				return Decision{}, fmt.Errorf("failed to create counter: %w", err)
			}
			return Decision{Allowed: true}, nil
		}
		if err != nil {
			return Decision{}, fmt.Errorf("failed to load counter: %w", err)
		}

		var record counterRecord
		if err := json.Unmarshal(stored.Value, &record); err != nil {
			return Decision{}, fmt.Errorf("failed to unmarshal counter: %w", err)
		}

		windowEnd := record.WindowStart.Add(limit.Window)
		if !now.Before(windowEnd) {
			record = counterRecord{WindowStart: now, Attempts: 1}
		} else {
			if record.Attempts >= limit.Threshold {
				return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
			}
			record.Attempts++
		}

		value, err := json.Marshal(record)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to marshal counter: %w", err)
		}
		_, err = l.store.CompareAndSwap(ctx, key, value, stored.Version)
		if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("failed to update counter: %w", err)
		}
		return Decision{Allowed: true}, nil
	}

	return Decision{}, fmt.Errorf("failed to update counter: %w", codestore.ErrConflict)
}

// Reset clears the window for a key, typically after a successful
// verification. Idempotent.
func (l *Limiter) Reset(ctx context.Context, identity, method string, class Class) error {
	if err := l.store.Delete(ctx, counterKey(identity, method, class)); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}
