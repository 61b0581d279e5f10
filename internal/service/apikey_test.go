package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/model"
)

func newKeyService(t *testing.T) (*APIKeyService, *memKeys, *memCache) {
	t.Helper()
	keys := newMemKeys()
	cache := newMemCache()
	return NewAPIKeyService(keys, newGenerator(), cache, testLogger()), keys, cache
}

func TestAPIKeyService_CreateDefaults(t *testing.T) {
	t.Parallel()

	svc, keys, _ := newKeyService(t)

	created, err := svc.Create(context.Background(), "account-1", model.APIKeyCreateRequest{Name: "  ci  "})
	require.NoError(t, err)

	assert.True(t, auth.ValidateKeyFormat(created.Plaintext))
	assert.Equal(t, "ci", created.Key.Name)
	assert.Equal(t, model.DefaultCapabilities(), created.Key.Capabilities)
	assert.Equal(t, model.Tier1, created.Key.Tier)

	stored, err := keys.GetAPIKeyByID(context.Background(), created.Key.ID)
	require.NoError(t, err)
	ok, err := auth.VerifySecret(created.Plaintext, stored.KeyHash)
	require.NoError(t, err)
	assert.True(t, ok, "only the hash is stored and it verifies")
}

func TestAPIKeyService_CreateThenAuthorize(t *testing.T) {
	t.Parallel()

	svc, keys, cache := newKeyService(t)
	created, err := svc.Create(context.Background(), "account-1", model.APIKeyCreateRequest{
		Capabilities: &model.Capabilities{CreateScorers: true},
	})
	require.NoError(t, err)

	az := NewAPIKeyAuthorizer(keys, nil, testLogger(), WithPrincipalCache(cache))
	_, err = az.Authorize(context.Background(), created.Plaintext, model.CapabilityCreateScorers, "/api/v1/scorers")
	assert.NoError(t, err)
	_, err = az.Authorize(context.Background(), created.Plaintext, model.CapabilitySubmit, "/api/v1/submit-passport")
	assert.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestAPIKeyService_CreateLimit(t *testing.T) {
	t.Parallel()

	svc, _, _ := newKeyService(t)
	ctx := context.Background()

	for i := 0; i < MaxActiveKeysPerAccount; i++ {
		_, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
	assert.ErrorIs(t, err, ErrTooManyKeys)

	// Other accounts are unaffected.
	_, err = svc.Create(ctx, "account-2", model.APIKeyCreateRequest{})
	assert.NoError(t, err)
}

func TestAPIKeyService_UpdateEvictsCache(t *testing.T) {
	t.Parallel()

	svc, keys, cache := newKeyService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
	require.NoError(t, err)

	az := NewAPIKeyAuthorizer(keys, nil, testLogger(), WithPrincipalCache(cache))
	_, err = az.Authorize(ctx, created.Plaintext, model.CapabilityRead, "/")
	require.NoError(t, err)

	tier := model.Tier3
	updated, err := svc.Update(ctx, "account-1", created.Key.ID, model.APIKeyUpdateRequest{
		Tier:         &tier,
		Capabilities: &model.Capabilities{Submit: true},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Tier3, updated.Tier)
	assert.Contains(t, cache.evicted, created.Key.ID)

	// The change is visible immediately.
	_, err = az.Authorize(ctx, created.Plaintext, model.CapabilityRead, "/")
	assert.ErrorIs(t, err, ErrCapabilityDenied)
	p, err := az.Authorize(ctx, created.Plaintext, model.CapabilitySubmit, "/")
	require.NoError(t, err)
	assert.Equal(t, model.Tier3, p.Tier)
}

func TestAPIKeyService_UpdateValidation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newKeyService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "account-1", created.Key.ID, model.APIKeyUpdateRequest{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)

	bad := model.Tier(0)
	_, err = svc.Update(ctx, "account-1", created.Key.ID, model.APIKeyUpdateRequest{Tier: &bad})
	assert.ErrorIs(t, err, ErrInvalidTier)

	name := "x"
	_, err = svc.Update(ctx, "account-2", created.Key.ID, model.APIKeyUpdateRequest{Name: &name})
	assert.ErrorIs(t, err, ErrKeyNotFound, "keys of other accounts are invisible")
}

func TestAPIKeyService_Revoke(t *testing.T) {
	t.Parallel()

	svc, keys, cache := newKeyService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
	require.NoError(t, err)

	az := NewAPIKeyAuthorizer(keys, nil, testLogger(), WithPrincipalCache(cache))
	_, err = az.Authorize(ctx, created.Plaintext, model.CapabilityRead, "/")
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, "account-2", created.Key.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	revokedAt, err := svc.Revoke(ctx, "account-1", created.Key.ID)
	require.NoError(t, err)
	assert.False(t, revokedAt.IsZero())

	_, err = az.Authorize(ctx, created.Plaintext, model.CapabilityRead, "/")
	assert.ErrorIs(t, err, ErrKeyRevoked)

	_, err = svc.Revoke(ctx, "account-1", created.Key.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAPIKeyService_Rotate(t *testing.T) {
	t.Parallel()

	svc, keys, cache := newKeyService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{
		Name:         "prod",
		Capabilities: &model.Capabilities{Read: true},
	})
	require.NoError(t, err)

	next, revokedAt, err := svc.Rotate(ctx, "account-1", created.Key.ID)
	require.NoError(t, err)
	assert.False(t, revokedAt.IsZero())
	assert.NotEqual(t, created.Key.ID, next.Key.ID)
	assert.NotEqual(t, created.Plaintext, next.Plaintext)
	assert.Equal(t, "prod", next.Key.Name)
	assert.Equal(t, created.Key.Capabilities, next.Key.Capabilities)

	az := NewAPIKeyAuthorizer(keys, nil, testLogger(), WithPrincipalCache(cache))
	_, err = az.Authorize(ctx, created.Plaintext, model.CapabilityRead, "/")
	assert.ErrorIs(t, err, ErrKeyRevoked)
	_, err = az.Authorize(ctx, next.Plaintext, model.CapabilityRead, "/")
	assert.NoError(t, err)

	_, _, err = svc.Rotate(ctx, "account-1", created.Key.ID)
	assert.ErrorIs(t, err, ErrKeyRevoked)
}

func TestAPIKeyService_List(t *testing.T) {
	t.Parallel()

	svc, _, _ := newKeyService(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Create(ctx, "account-1", model.APIKeyCreateRequest{})
		require.NoError(t, err)
	}

	keys, err := svc.List(ctx, "account-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = svc.List(ctx, "account-2")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
