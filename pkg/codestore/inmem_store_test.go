package codestore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemStore_PutGet(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()
	key := Key{Identity: "user-1", Kind: KindSecret, Ref: "totp"}

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	record, err := store.Put(ctx, key, []byte(`{"secret":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)

	record, err = store.Put(ctx, key, []byte(`{"secret":"def"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)

	fetched, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"secret":"def"}`), fetched.Value)
	assert.Equal(t, int64(2), fetched.Version)
}

func TestInMemStore_PutIfAbsent(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()
	key := Key{Identity: "user-1", Kind: KindRateLimit, Ref: "totp:verify"}

	_, err := store.PutIfAbsent(ctx, key, []byte("a"))
	require.NoError(t, err)

	_, err = store.PutIfAbsent(ctx, key, []byte("b"))
	assert.ErrorIs(t, err, ErrConflict)

	fetched, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), fetched.Value)
}

func TestInMemStore_CompareAndSwap(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()
	key := Key{Identity: "user-1", Kind: KindChallenge, Ref: "email"}

	_, err := store.CompareAndSwap(ctx, key, []byte("x"), 1)
	assert.ErrorIs(t, err, ErrNotFound)

	record, err := store.Put(ctx, key, []byte("a"))
	require.NoError(t, err)

	swapped, err := store.CompareAndSwap(ctx, key, []byte("b"), record.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swapped.Version)

	// Stale version loses
	_, err = store.CompareAndSwap(ctx, key, []byte("c"), record.Version)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInMemStore_CompareAndDelete(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()
	key := Key{Identity: "user-1", Kind: KindChallenge, Ref: "email"}

	// A missing record is reported, so a consumer knows its delete was not
	// the one that took effect
	assert.ErrorIs(t, store.CompareAndDelete(ctx, key, 1), ErrNotFound)

	record, err := store.Put(ctx, key, []byte("a"))
	require.NoError(t, err)

	assert.ErrorIs(t, store.CompareAndDelete(ctx, key, record.Version+1), ErrConflict)
	require.NoError(t, store.CompareAndDelete(ctx, key, record.Version))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.CompareAndDelete(ctx, key, record.Version), ErrNotFound)
}

func TestInMemStore_ListAndDeleteAll(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	_, err := store.Put(ctx, Key{Identity: "user-1", Kind: KindDevice, Ref: "hash-1"}, []byte("a"))
	require.NoError(t, err)
	_, err = store.Put(ctx, Key{Identity: "user-1", Kind: KindDevice, Ref: "hash-2"}, []byte("b"))
	require.NoError(t, err)
	_, err = store.Put(ctx, Key{Identity: "user-1", Kind: KindSecret, Ref: "totp"}, []byte("c"))
	require.NoError(t, err)
	_, err = store.Put(ctx, Key{Identity: "user-2", Kind: KindDevice, Ref: "hash-3"}, []byte("d"))
	require.NoError(t, err)

	devices, err := store.List(ctx, "user-1", KindDevice)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	require.NoError(t, store.DeleteAll(ctx, "user-1", KindDevice, KindSecret))

	devices, err = store.List(ctx, "user-1", KindDevice)
	require.NoError(t, err)
	assert.Empty(t, devices)

	// Other identities are untouched
	others, err := store.List(ctx, "user-2", KindDevice)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestInMemStore_ConcurrentCompareAndSwap(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()
	key := Key{Identity: "user-1", Kind: KindRecovery, Ref: "batch"}

	record, err := store.Put(ctx, key, []byte("initial"))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CompareAndSwap(ctx, key, []byte("swapped"), record.Version); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly one swap can win against the same expected version
	assert.Equal(t, 1, succeeded)
}
