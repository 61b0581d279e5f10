package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noncegate/noncegate/internal/challenge"
	"github.com/noncegate/noncegate/internal/model"
)

// Authenticator verifies a signed challenge.
type Authenticator interface {
	Authenticate(ctx context.Context, ch challenge.Challenge) (*challenge.Identity, error)
}

// AccountStore finds or creates the account bound to an address.
type AccountStore interface {
	GetOrCreateAccountByAddress(ctx context.Context, address string) (*model.Account, bool, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(accountID, address string) (string, time.Time, error)
}

// SignInService turns a verified challenge into a session.
type SignInService struct {
	authenticator Authenticator
	accounts      AccountStore
	tokens        TokenIssuer
	logger        *slog.Logger
}

// NewSignInService creates a SignInService.
func NewSignInService(authenticator Authenticator, accounts AccountStore, tokens TokenIssuer, logger *slog.Logger) *SignInService {
	return &SignInService{
		authenticator: authenticator,
		accounts:      accounts,
		tokens:        tokens,
		logger:        logger.With("component", "service.signin"),
	}
}

// SignIn authenticates ch, creates the account on first sight and issues
// a session token. Challenge errors are returned unchanged.
func (s *SignInService) SignIn(ctx context.Context, ch challenge.Challenge) (*model.VerifyResponse, error) {
	identity, err := s.authenticator.Authenticate(ctx, ch)
	if err != nil {
		return nil, err
	}

	account, created, err := s.accounts.GetOrCreateAccountByAddress(ctx, identity.Address)
	if err != nil {
		return nil, fmt.Errorf("get or create account: %w", err)
	}
	if created {
		s.logger.Info("account created", "account_id", account.ID, "family", string(identity.Family))
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Address)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	return &model.VerifyResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		AccountID:   account.ID,
		Address:     account.Address,
	}, nil
}
