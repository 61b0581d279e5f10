package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/repository"
)

// API key management errors.
var (
	ErrInvalidTier      = errors.New("invalid rate limit tier")
	ErrTooManyKeys      = errors.New("too many active API keys")
	ErrKeyNameTooLong   = errors.New("API key name too long")
	ErrNothingToUpdate  = errors.New("no fields to update")
	ErrKeyAlreadyExists = errors.New("API key collision, retry")
)

const (
	// MaxActiveKeysPerAccount bounds the unrevoked keys an account may hold.
	MaxActiveKeysPerAccount = 10
	maxKeyNameLength        = 100
)

// KeyRepository persists API keys.
type KeyRepository interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*model.APIKey, error)
	UpdateAPIKey(ctx context.Context, key *model.APIKey) error
	RevokeAPIKey(ctx context.Context, accountID, id string) (time.Time, error)
	RotateAPIKey(ctx context.Context, accountID, oldID string, next *model.APIKey) (time.Time, error)
}

// PrincipalEvicter drops cached principals of a key after it changes.
type PrincipalEvicter interface {
	EvictPrincipal(ctx context.Context, keyID string) error
}

// CreatedKey is a new key with its plaintext, which is never stored.
type CreatedKey struct {
	Key       *model.APIKey
	Plaintext string
}

// APIKeyService manages the API keys of an account.
type APIKeyService struct {
	repo      KeyRepository
	generator *auth.KeyGenerator
	evicter   PrincipalEvicter
	logger    *slog.Logger
	now       func() time.Time
}

// NewAPIKeyService creates an APIKeyService. evicter may be nil.
func NewAPIKeyService(repo KeyRepository, generator *auth.KeyGenerator, evicter PrincipalEvicter, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repo:      repo,
		generator: generator,
		evicter:   evicter,
		logger:    logger.With("component", "service.apikey"),
		now:       time.Now,
	}
}

// Create mints a key for accountID with the default tier. Capabilities
// default to submit and read.
func (s *APIKeyService) Create(ctx context.Context, accountID string, req model.APIKeyCreateRequest) (*CreatedKey, error) {
	name := strings.TrimSpace(req.Name)
	if len(name) > maxKeyNameLength {
		return nil, ErrKeyNameTooLong
	}

	existing, err := s.repo.ListAPIKeysByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list API keys: %w", err)
	}
	active := 0
	for _, k := range existing {
		if !k.IsRevoked() {
			active++
		}
	}
	if active >= MaxActiveKeysPerAccount {
		return nil, ErrTooManyKeys
	}

	capabilities := model.DefaultCapabilities()
	if req.Capabilities != nil {
		capabilities = *req.Capabilities
	}

	created, err := s.newKey(accountID, name, capabilities, model.DefaultTier)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateAPIKey(ctx, created.Key); err != nil {
		if errors.Is(err, repository.ErrAPIKeyExists) {
			return nil, ErrKeyAlreadyExists
		}
		return nil, fmt.Errorf("create API key: %w", err)
	}

	s.logger.Info("API key created",
		"key_id", created.Key.ID,
		"key_prefix", created.Key.KeyPrefix,
		"account_id", accountID,
	)
	return created, nil
}

// List returns every key of accountID, newest first.
func (s *APIKeyService) List(ctx context.Context, accountID string) ([]*model.APIKey, error) {
	keys, err := s.repo.ListAPIKeysByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list API keys: %w", err)
	}
	return keys, nil
}

// Update changes the name, capabilities or tier of an active key.
func (s *APIKeyService) Update(ctx context.Context, accountID, keyID string, req model.APIKeyUpdateRequest) (*model.APIKey, error) {
	if req.Name == nil && req.Capabilities == nil && req.Tier == nil {
		return nil, ErrNothingToUpdate
	}

	key, err := s.owned(ctx, accountID, keyID)
	if err != nil {
		return nil, err
	}
	if key.IsRevoked() {
		return nil, ErrKeyRevoked
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) > maxKeyNameLength {
			return nil, ErrKeyNameTooLong
		}
		key.Name = name
	}
	if req.Capabilities != nil {
		key.Capabilities = *req.Capabilities
	}
	if req.Tier != nil {
		if !req.Tier.Valid() {
			return nil, ErrInvalidTier
		}
		key.Tier = *req.Tier
	}

	if err := s.repo.UpdateAPIKey(ctx, key); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("update API key: %w", err)
	}

	s.evict(ctx, key.ID)
	s.logger.Info("API key updated", "key_id", key.ID, "account_id", accountID, "tier", key.Tier.String())
	return key, nil
}

// Revoke revokes an active key.
func (s *APIKeyService) Revoke(ctx context.Context, accountID, keyID string) (time.Time, error) {
	revokedAt, err := s.repo.RevokeAPIKey(ctx, accountID, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return time.Time{}, ErrKeyNotFound
		}
		return time.Time{}, fmt.Errorf("revoke API key: %w", err)
	}

	s.evict(ctx, keyID)
	s.logger.Info("API key revoked", "key_id", keyID, "account_id", accountID)
	return revokedAt, nil
}

// Rotate revokes keyID and issues a replacement with the same name,
// capabilities and tier.
func (s *APIKeyService) Rotate(ctx context.Context, accountID, keyID string) (*CreatedKey, time.Time, error) {
	old, err := s.owned(ctx, accountID, keyID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if old.IsRevoked() {
		return nil, time.Time{}, ErrKeyRevoked
	}

	created, err := s.newKey(accountID, old.Name, old.Capabilities, old.Tier)
	if err != nil {
		return nil, time.Time{}, err
	}

	revokedAt, err := s.repo.RotateAPIKey(ctx, accountID, old.ID, created.Key)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAPIKeyNotFound):
			return nil, time.Time{}, ErrKeyNotFound
		case errors.Is(err, repository.ErrAPIKeyExists):
			return nil, time.Time{}, ErrKeyAlreadyExists
		}
		return nil, time.Time{}, fmt.Errorf("rotate API key: %w", err)
	}

	s.evict(ctx, old.ID)
	s.logger.Info("API key rotated",
		"old_key_id", old.ID,
		"new_key_id", created.Key.ID,
		"account_id", accountID,
	)
	return created, revokedAt, nil
}

func (s *APIKeyService) owned(ctx context.Context, accountID, keyID string) (*model.APIKey, error) {
	key, err := s.repo.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get API key: %w", err)
	}
	// Another account's key is reported as missing.
	if key.AccountID != accountID {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (s *APIKeyService) newKey(accountID, name string, capabilities model.Capabilities, tier model.Tier) (*CreatedKey, error) {
	generated, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate API key: %w", err)
	}

	return &CreatedKey{
		Key: &model.APIKey{
			ID:           ulid.Make().String(),
			AccountID:    accountID,
			KeyHash:      generated.Hash,
			KeyPrefix:    generated.Prefix,
			Capabilities: capabilities,
			Tier:         tier,
			Name:         name,
			CreatedAt:    s.now().UTC(),
		},
		Plaintext: generated.Plaintext,
	}, nil
}

// evict drops cached principals; entries expire on their own if this fails.
func (s *APIKeyService) evict(ctx context.Context, keyID string) {
	if s.evicter == nil {
		return
	}
	if err := s.evicter.EvictPrincipal(ctx, keyID); err != nil {
		s.logger.Warn("failed to evict cached principal", "key_id", keyID, "error", err)
	}
}
