// Package noncetest provides a conformance suite for nonce.Backend
// implementations.
package noncetest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

// Concurrency is the number of goroutines racing to consume one token.
const Concurrency = 50

// NewBackendFunc returns a fresh, empty backend for one subtest.
type NewBackendFunc func(t *testing.T) nonce.Backend

// RunBackendSuite exercises the Backend contract.
func RunBackendSuite(t *testing.T, newBackend NewBackendFunc) {
	t.Helper()

	// Millisecond precision keeps comparisons exact across storage formats.
	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("InsertAndGet", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, 5*time.Minute)
		require.NoError(t, b.Insert(ctx, n))

		got, err := b.Get(ctx, n.Token)
		require.NoError(t, err)
		assert.Equal(t, n.Token, got.Token)
		assert.False(t, got.Used)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, n.ExpiresAt.Equal(*got.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, n.ExpiresAt)
		assert.True(t, n.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, n.CreatedAt)
	})

	t.Run("InsertWithoutExpiry", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, 0)
		require.NoError(t, b.Insert(ctx, n))

		got, err := b.Get(ctx, n.Token)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("DuplicateToken", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, time.Minute)
		require.NoError(t, b.Insert(ctx, n))

		err := b.Insert(ctx, n)
		assert.ErrorIs(t, err, nonce.ErrDuplicateToken)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Get(context.Background(), randomToken(t))
		assert.ErrorIs(t, err, nonce.ErrNotFound)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, time.Minute)
		require.NoError(t, b.Insert(ctx, n))

		require.NoError(t, b.Consume(ctx, n.Token, base.Add(time.Second)))
		assert.ErrorIs(t, b.Consume(ctx, n.Token, base.Add(2*time.Second)), nonce.ErrAlreadyUsed)

		got, err := b.Get(ctx, n.Token)
		require.NoError(t, err)
		assert.True(t, got.Used)
	})

	t.Run("ConsumeUnknown", func(t *testing.T) {
		b := newBackend(t)

		err := b.Consume(context.Background(), randomToken(t), base)
		assert.ErrorIs(t, err, nonce.ErrNotFound)
	})

	t.Run("ConsumeExpired", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, time.Second)
		require.NoError(t, b.Insert(ctx, n))

		assert.ErrorIs(t, b.Consume(ctx, n.Token, base.Add(2*time.Second)), nonce.ErrExpired)

		// An expired nonce is not marked used.
		got, err := b.Get(ctx, n.Token)
		require.NoError(t, err)
		assert.False(t, got.Used)
	})

	t.Run("ConsumeAtExpiryInstant", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, time.Second)
		require.NoError(t, b.Insert(ctx, n))

		assert.ErrorIs(t, b.Consume(ctx, n.Token, *n.ExpiresAt), nonce.ErrExpired)
	})

	t.Run("ConsumeWithoutExpiry", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, 0)
		require.NoError(t, b.Insert(ctx, n))

		require.NoError(t, b.Consume(ctx, n.Token, base.AddDate(50, 0, 0)))
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		n := newNonce(t, base, time.Hour)
		require.NoError(t, b.Insert(ctx, n))

		results := RaceConsume(Concurrency, func() error {
			return b.Consume(ctx, n.Token, base.Add(time.Second))
		})
		AssertSingleWinner(t, results)
	})
}

// RaceConsume starts n goroutines behind a shared gate and returns the
// error each call produced.
func RaceConsume(n int, consume func() error) []error {
	start := make(chan struct{})
	results := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = consume()
		}(i)
	}
	close(start)
	wg.Wait()

	return results
}

// AssertSingleWinner checks that exactly one call succeeded and every other
// call saw ErrAlreadyUsed.
func AssertSingleWinner(t *testing.T, results []error) {
	t.Helper()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, nonce.ErrAlreadyUsed):
		default:
			t.Errorf("unexpected consume error: %v", err)
		}
	}
	assert.Equal(t, 1, winners, "exactly one consume must succeed")
}

func newNonce(t *testing.T, createdAt time.Time, ttl time.Duration) *model.Nonce {
	t.Helper()

	n := &model.Nonce{Token: randomToken(t), CreatedAt: createdAt}
	if ttl > 0 {
		expiresAt := createdAt.Add(ttl)
		n.ExpiresAt = &expiresAt
	}
	return n
}

func randomToken(t *testing.T) string {
	t.Helper()

	buf := make([]byte, nonce.TokenBytes)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf)
}
