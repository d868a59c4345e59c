package oob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-2fa/pkg/codestore"
)

func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	store := codestore.NewInMemStore()
	engine := NewEngine(store, 6, 5*time.Minute, 3)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time { return now }
	return engine, &now
}

func TestEngine_GenerateAndVerify(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	outcome, err := engine.Verify(ctx, "user-1", "email", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)

	// The challenge is consumed; replay fails
	outcome, err = engine.Verify(ctx, "user-1", "email", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestEngine_VerifyExpired(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)

	// Just inside the TTL
	*now = now.Add(5*time.Minute - time.Second)
	outcomeAt299 := func() Outcome {
		outcome, err := engine.Verify(ctx, "user-1", "email", "999999")
		require.NoError(t, err)
		return outcome
	}()
	assert.Equal(t, OutcomeFailed, outcomeAt299)

	// Just past the TTL
	*now = now.Add(2 * time.Second)
	outcome, err := engine.Verify(ctx, "user-1", "email", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)

	// Expiry deleted the challenge; the right code no longer verifies
	outcome, err = engine.Verify(ctx, "user-1", "email", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestEngine_MaxAttemptsVoidsChallenge(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Generate(ctx, "user-1", "sms")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		outcome, err := engine.Verify(ctx, "user-1", "sms", "000000")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
	}

	// The cap voided the challenge even though it has not time-expired
	outcome, err := engine.Verify(ctx, "user-1", "sms", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestEngine_RegenerateInvalidatesPrior(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)
	second, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)

	outcome, err := engine.Verify(ctx, "user-1", "email", first)
	require.NoError(t, err)
	if first != second {
		assert.Equal(t, OutcomeFailed, outcome)
	}

	outcome, err = engine.Verify(ctx, "user-1", "email", second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
}

func TestEngine_ChallengesAreScopedByMethod(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	emailCode, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)
	_, err = engine.Generate(ctx, "user-1", "sms")
	require.NoError(t, err)

	// The email code does not open the SMS challenge
	outcome, err := engine.Verify(ctx, "user-1", "sms", emailCode)
	require.NoError(t, err)
	if emailCode != "" {
		assert.NotEqual(t, OutcomeVerified, outcome)
	}

	outcome, err = engine.Verify(ctx, "user-1", "email", emailCode)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
}

func TestEngine_Invalidate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)
	require.NoError(t, engine.Invalidate(ctx, "user-1", "email"))

	outcome, err := engine.Verify(ctx, "user-1", "email", code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

// barrierStore delays Get results until a fixed number of readers have all
// loaded the record, forcing concurrent verifiers to observe the same
// challenge version before either tries to consume it.
type barrierStore struct {
	codestore.Store

	mu      sync.Mutex
	pending int
	barrier chan struct{}
}

func (s *barrierStore) Get(ctx context.Context, key codestore.Key) (codestore.Record, error) {
	record, err := s.Store.Get(ctx, key)
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
		if s.pending == 0 {
			close(s.barrier)
		}
		s.mu.Unlock()
		<-s.barrier
	} else {
		s.mu.Unlock()
	}
	return record, err
}

func TestEngine_ConcurrentVerifySingleWinner(t *testing.T) {
	store := &barrierStore{
		Store:   codestore.NewInMemStore(),
		pending: 2,
		barrier: make(chan struct{}),
	}
	engine := NewEngine(store, 6, 5*time.Minute, 3)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time { return now }
	ctx := context.Background()

	code, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)

	outcomes := make(chan Outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := engine.Verify(ctx, "user-1", "email", code)
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	verified := 0
	for outcome := range outcomes {
		if outcome == OutcomeVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified, "a challenge is consumed exactly once")
}

func TestEngine_ExpiredVerifyDoesNotDeleteFreshChallenge(t *testing.T) {
	store := &barrierStore{
		Store:   codestore.NewInMemStore(),
		pending: 2,
		barrier: make(chan struct{}),
	}
	engine := NewEngine(store, 6, 5*time.Minute, 3)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)
	now = now.Add(6 * time.Minute)

	// This verifier reads the expired challenge, then stalls at the barrier
	// while a new code is issued underneath it.
	done := make(chan Outcome, 1)
	go func() {
		outcome, err := engine.Verify(ctx, "user-1", "email", "0000000")
		assert.NoError(t, err)
		done <- outcome
	}()
	for {
		store.mu.Lock()
		waiting := store.pending == 1
		store.mu.Unlock()
		if waiting {
			break
		}
		time.Sleep(time.Millisecond)
	}

	fresh, err := engine.Generate(ctx, "user-1", "email")
	require.NoError(t, err)

	// Release the stalled verifier; its expiry delete must lose to the
	// replacement, not wipe it out.
	_, err = store.Get(ctx, challengeKey("user-1", "email"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, <-done)

	outcome, err := engine.Verify(ctx, "user-1", "email", fresh)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
}
