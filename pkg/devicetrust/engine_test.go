package devicetrust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-2fa/pkg/codestore"
)

var testSigningKey = []byte("test-device-trust-signing-key")

func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	engine, err := NewEngine(codestore.NewInMemStore(), testSigningKey, 30*24*time.Hour)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time { return now }
	return engine, &now
}

func TestNewEngine_RequiresSigningKey(t *testing.T) {
	_, err := NewEngine(codestore.NewInMemStore(), nil, time.Hour)
	assert.Error(t, err)
}

func TestEngine_IssueAndValidate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	token, err := engine.Issue(ctx, "user-1", "fp-abc", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	status, err := engine.Validate(ctx, "user-1", token)
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, status)

	// Token minted for one identity does not carry trust for another
	status, err = engine.Validate(ctx, "user-2", token)
	require.NoError(t, err)
	assert.Equal(t, StatusNotTrusted, status)
}

func TestEngine_ValidateGarbageToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	status, err := engine.Validate(ctx, "user-1", "not-a-token")
	require.NoError(t, err)
	assert.Equal(t, StatusNotTrusted, status)
}

func TestEngine_ValidateExpired(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	token, err := engine.Issue(ctx, "user-1", "fp-abc", time.Hour)
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	status, err := engine.Validate(ctx, "user-1", token)
	require.NoError(t, err)
	assert.Equal(t, StatusNotTrusted, status)
}

func TestEngine_Revoke(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	token, err := engine.Issue(ctx, "user-1", "fp-abc", 0)
	require.NoError(t, err)

	require.NoError(t, engine.Revoke(ctx, "user-1", token))
	// Idempotent
	require.NoError(t, engine.Revoke(ctx, "user-1", token))

	status, err := engine.Validate(ctx, "user-1", token)
	require.NoError(t, err)
	assert.Equal(t, StatusNotTrusted, status)
}

func TestEngine_RevokeAll(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tokenA, err := engine.Issue(ctx, "user-1", "fp-a", 0)
	require.NoError(t, err)
	tokenB, err := engine.Issue(ctx, "user-1", "fp-b", 0)
	require.NoError(t, err)

	devices, err := engine.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	require.NoError(t, engine.RevokeAll(ctx, "user-1"))

	for _, token := range []string{tokenA, tokenB} {
		status, err := engine.Validate(ctx, "user-1", token)
		require.NoError(t, err)
		assert.Equal(t, StatusNotTrusted, status)
	}
}

func TestEngine_ValidateRefreshesLastUsed(t *testing.T) {
	engine, now := newTestEngine(t)
	ctx := context.Background()

	token, err := engine.Issue(ctx, "user-1", "fp-abc", 0)
	require.NoError(t, err)
	issuedAt := *now

	*now = now.Add(3 * 24 * time.Hour)
	status, err := engine.Validate(ctx, "user-1", token)
	require.NoError(t, err)
	require.Equal(t, StatusTrusted, status)

	devices, err := engine.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].LastUsedAt.After(issuedAt))
	assert.Equal(t, "fp-abc", devices[0].Fingerprint)
}

func TestFingerprint(t *testing.T) {
	web := FingerprintData{
		UserAgent:        "Mozilla/5.0",
		AcceptHeaders:    "text/html|en-US|gzip",
		Timezone:         "UTC",
		ScreenResolution: "1920x1080",
	}

	fp := Fingerprint(web)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint(web), "fingerprint must be stable")

	other := web
	other.UserAgent = "curl/8.0"
	assert.NotEqual(t, fp, Fingerprint(other))

	// A device ID takes precedence over browser hints
	mobile := FingerprintData{DeviceID: "device-123", UserAgent: "ignored"}
	assert.Equal(t, Fingerprint(FingerprintData{DeviceID: "device-123"}), Fingerprint(mobile))
}
