// Package storage defines persistence contracts for the login service.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/signet/internal/account"
	"github.com/louisbranch/signet/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a uniqueness constraint rejected a write.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// AccountStore persists local account records.
//
// Implementations must enforce at most one account per (provider, subject)
// pair; PutAccount reports ErrAlreadyExists when a concurrent first login
// already created the linked account.
type AccountStore interface {
	PutAccount(ctx context.Context, a account.Account) error
	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	GetAccountByProviderSubject(ctx context.Context, provider, subject string) (account.Account, error)
}

// LoginState correlates an in-flight authorization request with its PKCE
// verifier. Entries are write-once, read-once.
type LoginState struct {
	State     string
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// LoginStateStore persists ephemeral login correlation entries.
//
// TakeLoginState atomically retrieves and deletes an entry; absent, already
// consumed, and expired entries are indistinguishable and all report
// ErrNotFound. Infrastructure failures must surface as distinct errors, never
// as ErrNotFound.
type LoginStateStore interface {
	PutLoginState(ctx context.Context, s LoginState) error
	TakeLoginState(ctx context.Context, state string, now time.Time) (LoginState, error)
	DeleteExpiredLoginStates(ctx context.Context, now time.Time) error
}
