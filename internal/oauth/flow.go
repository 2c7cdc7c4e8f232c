package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/signet/internal/account"
	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/storage"
)

// SessionIssuer signs a credential for a reconciled account.
type SessionIssuer interface {
	Issue(a account.Account, ttl time.Duration) (string, error)
}

// LoginResult is the outcome of a completed provider login.
type LoginResult struct {
	Account account.Account
	Token   string
}

// Flow orchestrates the provider login round trip: initiation, callback
// verification, code exchange, profile retrieval, and account reconciliation.
type Flow struct {
	provider   ProviderConfig
	client     *Client
	states     storage.LoginStateStore
	accounts   storage.AccountStore
	sessions   SessionIssuer
	stateTTL   time.Duration
	sessionTTL time.Duration
	clock      func() time.Time
	tracer     trace.Tracer
}

// FlowOptions configures a Flow.
type FlowOptions struct {
	Provider   ProviderConfig
	Client     *Client
	States     storage.LoginStateStore
	Accounts   storage.AccountStore
	Sessions   SessionIssuer
	StateTTL   time.Duration
	SessionTTL time.Duration
	Clock      func() time.Time
}

// NewFlow creates a login flow. Zero TTLs fall back to defaults.
func NewFlow(opts FlowOptions) *Flow {
	if opts.Client == nil {
		opts.Client = NewClient(opts.Provider, nil)
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Flow{
		provider:   opts.Provider,
		client:     opts.Client,
		states:     opts.States,
		accounts:   opts.Accounts,
		sessions:   opts.Sessions,
		stateTTL:   opts.StateTTL,
		sessionTTL: opts.SessionTTL,
		clock:      opts.Clock,
		tracer:     otel.Tracer("signet/oauth"),
	}
}

// BeginLogin prepares a provider redirect. It generates the PKCE verifier and
// CSRF state, persists their correlation, and only then returns the
// authorization URL: if the correlation entry cannot be written the redirect
// must not happen, because the callback could never complete.
func (f *Flow) BeginLogin(ctx context.Context) (redirectURL, state string, err error) {
	ctx, span := f.tracer.Start(ctx, "oauth.begin_login",
		trace.WithAttributes(attribute.String("oauth.provider", f.provider.Name)))
	defer span.End()

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		span.RecordError(err)
		return "", "", apperrors.Wrap(apperrors.CodeUnknown, "generate code verifier", err)
	}
	state, err = NewState()
	if err != nil {
		span.RecordError(err)
		return "", "", apperrors.Wrap(apperrors.CodeUnknown, "generate login state", err)
	}

	now := f.clock().UTC()
	entry := storage.LoginState{
		State:     state,
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(f.stateTTL),
	}
	if err := f.states.PutLoginState(ctx, entry); err != nil {
		span.RecordError(err)
		return "", "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "persist login state", err)
	}

	return f.client.BuildAuthorizationURL(state, ComputeS256Challenge(verifier)), state, nil
}

// CompleteLogin finishes the callback leg: it consumes the correlation entry,
// exchanges the code, fetches the remote profile, reconciles the account, and
// issues a session credential.
func (f *Flow) CompleteLogin(ctx context.Context, state, code string) (LoginResult, error) {
	ctx, span := f.tracer.Start(ctx, "oauth.complete_login",
		trace.WithAttributes(attribute.String("oauth.provider", f.provider.Name)))
	defer span.End()

	result, err := f.completeLogin(ctx, state, code)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("oauth.error_code", string(apperrors.CodeOf(err))))
	}
	return result, err
}

func (f *Flow) completeLogin(ctx context.Context, state, code string) (LoginResult, error) {
	verifier, err := f.takeVerifier(ctx, state)
	if err != nil {
		return LoginResult{}, err
	}

	token, err := f.client.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return LoginResult{}, err
	}
	if !strings.EqualFold(token.TokenType, "bearer") {
		return LoginResult{}, apperrors.New(apperrors.CodeLoginTokenTypeInvalid, "provider issued a non-bearer token")
	}

	profile, err := f.client.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return LoginResult{}, err
	}

	acct, err := f.resolveAccount(ctx, profile)
	if err != nil {
		return LoginResult{}, err
	}

	credential, err := f.sessions.Issue(acct, f.sessionTTL)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Account: acct, Token: credential}, nil
}

// takeVerifier consumes the one-time correlation entry for a callback state.
//
// Unknown, replayed, and expired states all collapse into the same client
// error so a caller cannot probe which case occurred. Store failures keep
// their infrastructure identity instead.
func (f *Flow) takeVerifier(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", apperrors.New(apperrors.CodeLoginStateInvalid, "invalid or expired request")
	}
	entry, err := f.states.TakeLoginState(ctx, state, f.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", apperrors.New(apperrors.CodeLoginStateInvalid, "invalid or expired request")
		}
		return "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "read login state", err)
	}
	return entry.Verifier, nil
}

// resolveAccount maps a remote profile to a local account, creating one on
// first login. A lookup failure is never treated as "not found": it aborts
// the flow rather than risking a duplicate account.
func (f *Flow) resolveAccount(ctx context.Context, profile Profile) (account.Account, error) {
	existing, err := f.accounts.GetAccountByProviderSubject(ctx, f.provider.Name, profile.Subject)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "look up account", err)
	}

	created, err := account.Create(account.CreateInput{
		DisplayName:     firstNonEmpty(profile.PreferredUsername, profile.Name),
		Login:           profile.Name,
		AvatarURL:       profile.AvatarURL,
		Email:           profile.Email,
		Provider:        f.provider.Name,
		ProviderSubject: profile.Subject,
	}, f.clock, nil)
	if err != nil {
		return account.Account{}, err
	}

	err = f.accounts.PutAccount(ctx, created)
	if err == nil {
		return created, nil
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Concurrent first login won the race; adopt its account.
		winner, readErr := f.accounts.GetAccountByProviderSubject(ctx, f.provider.Name, profile.Subject)
		if readErr != nil {
			return account.Account{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "re-read account after create race", readErr)
		}
		return winner, nil
	}
	return account.Account{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "create account", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
