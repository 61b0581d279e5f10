// Package challenge authenticates a signed nonce: the caller proves control
// of an address by signing a message that embeds a fresh nonce.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/noncegate/noncegate/internal/address"
	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/nonce"
	"github.com/noncegate/noncegate/internal/signature"
)

// DefaultServiceName appears in the Ethereum sign-in statement.
const DefaultServiceName = "noncegate"

// Authentication failure kinds. Each failure is an *Error matching exactly
// one of these with errors.Is.
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrBadSignature     = errors.New("bad signature")
	ErrNonceNotFound    = errors.New("nonce not found")
	ErrNonceAlreadyUsed = errors.New("nonce already used")
	ErrNonceExpired     = errors.New("nonce expired")
)

var reasonCodes = map[error]string{
	ErrInvalidAddress:   "invalid_address",
	ErrBadSignature:     "bad_signature",
	ErrNonceNotFound:    "nonce_not_found",
	ErrNonceAlreadyUsed: "nonce_already_used",
	ErrNonceExpired:     "nonce_expired",
}

// Error is an authentication failure. Reason is one of the Err* kinds above
// and Cause, when set, is the lower-level error that produced it.
type Error struct {
	Reason error
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "authentication failed: " + e.Reason.Error()
	}
	return fmt.Sprintf("authentication failed: %v: %v", e.Reason, e.Cause)
}

// Unwrap exposes both the reason and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// Code is a stable snake_case name for logs and metrics.
func (e *Error) Code() string {
	if code, ok := reasonCodes[e.Reason]; ok {
		return code
	}
	return "unknown"
}

func fail(reason, cause error) *Error {
	return &Error{Reason: reason, Cause: cause}
}

// Challenge is a signed sign-in attempt. Signature and PublicKey are hex;
// PublicKey is only sent for principal addresses.
type Challenge struct {
	Address   string
	Nonce     string
	Signature string
	PublicKey string
}

// Identity is the proven holder of an address.
type Identity struct {
	Address         string
	Family          address.Family
	AuthenticatedAt time.Time
}

// Consumer spends a nonce exactly once.
type Consumer interface {
	Consume(ctx context.Context, token string) error
}

// Verifier checks a signature for an address.
type Verifier interface {
	Verify(addr address.Address, message, sig, publicKey []byte) error
}

// Authenticator verifies signatures and then consumes the nonce.
type Authenticator struct {
	nonces   Consumer
	verifier Verifier
	logger   *slog.Logger
	metrics  metrics.Recorder
	service  string
	now      func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithServiceName sets the name used in the sign-in statement.
func WithServiceName(name string) Option {
	return func(a *Authenticator) {
		if name != "" {
			a.service = name
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(a *Authenticator) {
		if recorder != nil {
			a.metrics = recorder
		}
	}
}

// WithClock overrides the clock stamped on identities.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(nonces Consumer, verifier Verifier, logger *slog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		nonces:   nonces,
		verifier: verifier,
		logger:   logger.With("component", "challenge.authenticator"),
		metrics:  metrics.NewNoop(),
		service:  DefaultServiceName,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ServiceName returns the name embedded in sign-in messages.
func (a *Authenticator) ServiceName() string {
	return a.service
}

// Authenticate checks the address, then the signature, and only then
// consumes the nonce, so a bad signature never burns a valid nonce.
// Transient store failures are returned unwrapped as
// nonce.ErrStoreUnavailable rather than as an *Error.
func (a *Authenticator) Authenticate(ctx context.Context, ch Challenge) (*Identity, error) {
	id, err := a.authenticate(ctx, ch)

	var authErr *Error
	switch {
	case err == nil:
		a.metrics.IncAuthentication("success")
		a.logger.Info("authenticated", "address", id.Address, "family", id.Family)
	case errors.As(err, &authErr):
		a.metrics.IncAuthentication(authErr.Code())
		a.logger.Info("authentication rejected", "reason", authErr.Code(), "error", err)
	default:
		a.metrics.IncAuthentication("error")
		a.logger.Error("authentication failed", "error", err)
	}
	return id, err
}

func (a *Authenticator) authenticate(ctx context.Context, ch Challenge) (*Identity, error) {
	addr, err := address.Parse(ch.Address)
	if err != nil {
		return nil, fail(ErrInvalidAddress, err)
	}
	if !nonce.ValidToken(ch.Nonce) {
		return nil, fail(ErrNonceNotFound, nil)
	}

	sig, err := signature.DecodeHex(ch.Signature)
	if err != nil {
		return nil, fail(ErrBadSignature, err)
	}
	var publicKey []byte
	if ch.PublicKey != "" {
		if publicKey, err = signature.DecodeHex(ch.PublicKey); err != nil {
			return nil, fail(ErrBadSignature, err)
		}
	}

	message := []byte(Message(addr, ch.Nonce, a.service))
	if err := a.verifier.Verify(addr, message, sig, publicKey); err != nil {
		if errors.Is(err, signature.ErrUnsupportedFamily) {
			return nil, fail(ErrInvalidAddress, err)
		}
		return nil, fail(ErrBadSignature, err)
	}

	switch err := a.nonces.Consume(ctx, ch.Nonce); {
	case err == nil:
	case errors.Is(err, nonce.ErrNotFound):
		return nil, fail(ErrNonceNotFound, err)
	case errors.Is(err, nonce.ErrAlreadyUsed):
		return nil, fail(ErrNonceAlreadyUsed, err)
	case errors.Is(err, nonce.ErrExpired):
		return nil, fail(ErrNonceExpired, err)
	default:
		return nil, err
	}

	return &Identity{
		Address:         addr.Canonical,
		Family:          addr.Family,
		AuthenticatedAt: a.now().UTC(),
	}, nil
}
