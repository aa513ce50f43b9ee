// Package ledger implements the one-time signing-token ledger: issuing,
// reusing, validating, and consuming the time-limited credentials that grant
// a recipient access to complete signing.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/api"
)

// DefaultTTL is the token lifetime used when no TTL is given.
const DefaultTTL = 60 * time.Minute

// Ledger issues and redeems signing tokens against a TokenStore.
type Ledger struct {
	tokens persistence.TokenStore
	now    func() time.Time
}

// New creates a Ledger. If now is nil, time.Now is used.
func New(tokens persistence.TokenStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{tokens: tokens, now: now}
}

// newValue generates an opaque, URL-safe token value.
func newValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue supersedes any active token for the recipient and creates a fresh
// one with the given TTL (DefaultTTL when ttl <= 0). The invariant that at
// most one active token exists per recipient is maintained here: the old
// tokens are retired before the new one is saved.
func (l *Ledger) Issue(ctx context.Context, recipientID string, ttl time.Duration) (*api.SigningToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	value, err := newValue()
	if err != nil {
		return nil, err
	}

	if err := l.tokens.RetireActiveTokens(ctx, recipientID); err != nil {
		return nil, err
	}

	now := l.now()
	t := &api.SigningToken{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Value:       value,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := l.tokens.SaveToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Active returns the recipient's current active token, or nil when none
// exists. Expiry is evaluated lazily against the ledger clock.
func (l *Ledger) Active(ctx context.Context, recipientID string) (*api.SigningToken, error) {
	t, err := l.tokens.ActiveToken(ctx, recipientID, l.now())
	if err != nil {
		if errors.Is(err, persistence.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// GetOrReuse returns the active token if one exists (same value, same
// remaining lifetime), else issues a new one. Repeated resend requests must
// not invalidate a token already delivered to the recipient's inbox, nor
// accumulate unbounded tokens.
func (l *Ledger) GetOrReuse(ctx context.Context, recipientID string, ttl time.Duration) (*api.SigningToken, error) {
	t, err := l.Active(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}
	return l.Issue(ctx, recipientID, ttl)
}

// Validate returns the token for the given opaque value only if it exists,
// is unused, and has not expired. Every failure collapses into the uniform
// token-invalid error so callers cannot distinguish the precondition that
// failed.
func (l *Ledger) Validate(ctx context.Context, value string) (*api.SigningToken, error) {
	t, err := l.tokens.TokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, persistence.ErrTokenNotFound) {
			return nil, api.ErrTokenInvalid(err)
		}
		return nil, api.WrapErr(api.KindDependency, err, "could not verify signing link")
	}
	if t.Used {
		return nil, api.ErrTokenInvalid(persistence.ErrTokenSpent)
	}
	if !l.now().Before(t.ExpiresAt) {
		return nil, api.ErrTokenInvalid(errors.New("signing token expired"))
	}
	return t, nil
}

// DeleteByRecipients removes every token of the given recipients. It backs
// whole-workflow deletion; nothing else ever deletes tokens.
func (l *Ledger) DeleteByRecipients(ctx context.Context, recipientIDs []string) error {
	return l.tokens.DeleteByRecipients(ctx, recipientIDs)
}

// Consume marks the token used. The store guarantees the flip is a single
// conditional update, so of two concurrent calls exactly one succeeds; the
// loser receives the uniform token-invalid error.
func (l *Ledger) Consume(ctx context.Context, id string) error {
	err := l.tokens.ConsumeToken(ctx, id)
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrTokenSpent) || errors.Is(err, persistence.ErrTokenNotFound) {
		return api.ErrTokenInvalid(err)
	}
	return api.WrapErr(api.KindDependency, err, "could not redeem signing link")
}
