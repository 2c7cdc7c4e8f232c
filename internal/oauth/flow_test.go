package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/signet/internal/account"
	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/storage"
)

type fakeStateStore struct {
	entries map[string]storage.LoginState
	putErr  error
	takeErr error
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{entries: make(map[string]storage.LoginState)}
}

func (f *fakeStateStore) PutLoginState(ctx context.Context, s storage.LoginState) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.entries[s.State] = s
	return nil
}

func (f *fakeStateStore) TakeLoginState(ctx context.Context, state string, now time.Time) (storage.LoginState, error) {
	if f.takeErr != nil {
		return storage.LoginState{}, f.takeErr
	}
	entry, ok := f.entries[state]
	if !ok {
		return storage.LoginState{}, storage.ErrNotFound
	}
	delete(f.entries, state)
	if !entry.ExpiresAt.After(now) {
		return storage.LoginState{}, storage.ErrNotFound
	}
	return entry, nil
}

func (f *fakeStateStore) DeleteExpiredLoginStates(ctx context.Context, now time.Time) error {
	for state, entry := range f.entries {
		if !entry.ExpiresAt.After(now) {
			delete(f.entries, state)
		}
	}
	return nil
}

type fakeAccountStore struct {
	bySubject map[string]account.Account
	putErr    error
	getErr    error
	getHook   func()
	puts      int
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{bySubject: make(map[string]account.Account)}
}

func subjectKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func (f *fakeAccountStore) PutAccount(ctx context.Context, a account.Account) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	key := subjectKey(a.Provider, a.ProviderSubject)
	if _, exists := f.bySubject[key]; exists {
		return storage.ErrAlreadyExists
	}
	f.bySubject[key] = a
	return nil
}

func (f *fakeAccountStore) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	for _, a := range f.bySubject {
		if a.ID == accountID {
			return a, nil
		}
	}
	return account.Account{}, storage.ErrNotFound
}

func (f *fakeAccountStore) GetAccountByProviderSubject(ctx context.Context, provider, subject string) (account.Account, error) {
	if f.getHook != nil {
		f.getHook()
	}
	if f.getErr != nil {
		return account.Account{}, f.getErr
	}
	a, ok := f.bySubject[subjectKey(provider, subject)]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return a, nil
}

type fakeIssuer struct {
	err    error
	issued int
}

func (f *fakeIssuer) Issue(a account.Account, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	return "session-for-" + a.ID, nil
}

// fakeProviderServer serves both the token and userinfo endpoints.
func fakeProviderServer(t *testing.T, tokenType, profileBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-1","token_type":%q,"scope":"profile,email"}`, tokenType)
	})
	mux.HandleFunc("/api/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, profileBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const testProfileBody = `{"sub":"sub-1","name":"ada","preferred_username":"Ada Lovelace","picture":"https://cdn.example.com/ada.png","email":"ada@example.com"}`

type flowFixture struct {
	flow     *Flow
	states   *fakeStateStore
	accounts *fakeAccountStore
	issuer   *fakeIssuer
}

func newFlowFixture(t *testing.T, srv *httptest.Server) *flowFixture {
	t.Helper()
	provider := testProvider(srv.URL)
	fixture := &flowFixture{
		states:   newFakeStateStore(),
		accounts: newFakeAccountStore(),
		issuer:   &fakeIssuer{},
	}
	fixture.flow = NewFlow(FlowOptions{
		Provider: provider,
		Client:   NewClient(provider, srv.Client()),
		States:   fixture.states,
		Accounts: fixture.accounts,
		Sessions: fixture.issuer,
		StateTTL: 10 * time.Minute,
		Clock:    func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return fixture
}

func TestBeginLogin(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)

	redirectURL, state, err := fixture.flow.BeginLogin(context.Background())
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}

	entry, ok := fixture.states.entries[state]
	if !ok {
		t.Fatal("expected login state to be stored")
	}
	if entry.Verifier == "" {
		t.Fatal("expected stored verifier")
	}
	if got := entry.ExpiresAt.Sub(entry.CreatedAt); got != 10*time.Minute {
		t.Errorf("state TTL = %v, want 10m", got)
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("parse redirect url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != state {
		t.Errorf("redirect state = %q, want %q", query.Get("state"), state)
	}
	if want := ComputeS256Challenge(entry.Verifier); query.Get("code_challenge") != want {
		t.Error("code_challenge is not derived from the stored verifier")
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", query.Get("code_challenge_method"))
	}
}

func TestBeginLoginAbortsWhenStateWriteFails(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	fixture.states.putErr = apperrors.New(apperrors.CodeStorageUnavailable, "disk full")

	redirectURL, _, err := fixture.flow.BeginLogin(context.Background())
	if err == nil {
		t.Fatal("expected error when the correlation entry cannot be stored")
	}
	if redirectURL != "" {
		t.Fatalf("expected no redirect URL, got %q", redirectURL)
	}
	if apperrors.KindOf(err) != apperrors.KindInfrastructure {
		t.Errorf("kind = %v, want INFRASTRUCTURE", apperrors.KindOf(err))
	}
}

func seedState(f *flowFixture, state, verifier string) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.states.entries[state] = storage.LoginState{
		State:     state,
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestCompleteLoginSignUp(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	result, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}

	if result.Token == "" || !strings.HasPrefix(result.Token, "session-for-") {
		t.Fatalf("unexpected token %q", result.Token)
	}
	acct := result.Account
	if acct.DisplayName != "Ada Lovelace" {
		t.Errorf("DisplayName = %q, want Ada Lovelace", acct.DisplayName)
	}
	if acct.Login != "ada" {
		t.Errorf("Login = %q, want ada", acct.Login)
	}
	if acct.Provider != "casdoor" || acct.ProviderSubject != "sub-1" {
		t.Errorf("provider link = %s/%s", acct.Provider, acct.ProviderSubject)
	}
	if acct.Admin {
		t.Error("new accounts must not be administrators")
	}

	stored, err := fixture.accounts.GetAccountByProviderSubject(context.Background(), "casdoor", "sub-1")
	if err != nil {
		t.Fatalf("account not persisted: %v", err)
	}
	if stored.ID != acct.ID {
		t.Errorf("stored ID = %q, want %q", stored.ID, acct.ID)
	}
}

func TestCompleteLoginSignIn(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	existing := account.Account{ID: "acc-existing", Login: "ada", Provider: "casdoor", ProviderSubject: "sub-1"}
	fixture.accounts.bySubject[subjectKey("casdoor", "sub-1")] = existing

	result, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if result.Account.ID != "acc-existing" {
		t.Fatalf("Account.ID = %q, want acc-existing", result.Account.ID)
	}
	if fixture.accounts.puts != 0 {
		t.Errorf("expected no account writes on sign-in, got %d", fixture.accounts.puts)
	}
}

func TestCompleteLoginRejectsUnknownState(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)

	_, err := fixture.flow.CompleteLogin(context.Background(), "never-issued", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeLoginStateInvalid {
		t.Fatalf("code = %v, want LOGIN_STATE_INVALID", apperrors.CodeOf(err))
	}
	if err.Error() != "invalid or expired request" {
		t.Errorf("message = %q, want the uniform rejection message", err.Error())
	}
}

func TestCompleteLoginStateIsSingleUse(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	if _, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeLoginStateInvalid {
		t.Fatalf("replay code = %v, want LOGIN_STATE_INVALID", apperrors.CodeOf(err))
	}
}

func TestCompleteLoginStoreFailureIsNotStateInvalid(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	fixture.states.takeErr = apperrors.New(apperrors.CodeStorageUnavailable, "connection refused")

	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeStorageUnavailable {
		t.Fatalf("code = %v, want STORAGE_UNAVAILABLE", apperrors.CodeOf(err))
	}
	if err.Error() == "invalid or expired request" {
		t.Error("infrastructure failure must not masquerade as an invalid state")
	}
}

func TestCompleteLoginRejectsNonBearerToken(t *testing.T) {
	srv := fakeProviderServer(t, "mac", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeLoginTokenTypeInvalid {
		t.Fatalf("code = %v, want LOGIN_TOKEN_TYPE_INVALID", apperrors.CodeOf(err))
	}
}

func TestCompleteLoginLookupFailureDoesNotCreateAccount(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")
	fixture.accounts.getErr = apperrors.New(apperrors.CodeStorageUnavailable, "connection refused")

	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeStorageUnavailable {
		t.Fatalf("code = %v, want STORAGE_UNAVAILABLE", apperrors.CodeOf(err))
	}
	if fixture.accounts.puts != 0 {
		t.Fatalf("lookup failure must not fall through to account creation, got %d writes", fixture.accounts.puts)
	}
}

func TestCompleteLoginAdoptsConcurrentWinner(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	// Lookup misses, but by the time the write lands a concurrent login has
	// already created the account.
	winner := account.Account{ID: "acc-winner", Login: "ada", Provider: "casdoor", ProviderSubject: "sub-1"}
	fixture.accounts.putErr = storage.ErrAlreadyExists
	missOnce := true
	fixture.accounts.getHook = func() {
		if missOnce {
			missOnce = false
			return
		}
		fixture.accounts.bySubject[subjectKey("casdoor", "sub-1")] = winner
	}

	result, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if result.Account.ID != "acc-winner" {
		t.Fatalf("Account.ID = %q, want acc-winner", result.Account.ID)
	}
}

func TestCompleteLoginMissingSubjectFailsClosed(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", `{"name":"ada"}`)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")

	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeProviderMalformed {
		t.Fatalf("code = %v, want PROVIDER_MALFORMED_RESPONSE", apperrors.CodeOf(err))
	}
	if fixture.accounts.puts != 0 {
		t.Error("no account may be created without a provider subject")
	}
}

func TestCompleteLoginSessionFailure(t *testing.T) {
	srv := fakeProviderServer(t, "bearer", testProfileBody)
	fixture := newFlowFixture(t, srv)
	seedState(fixture, "state-1", "verifier-1")
	fixture.issuer.err = apperrors.New(apperrors.CodeSessionSigningUnavailable, "signer down")

	_, err := fixture.flow.CompleteLogin(context.Background(), "state-1", "code-1")
	if apperrors.CodeOf(err) != apperrors.CodeSessionSigningUnavailable {
		t.Fatalf("code = %v, want SESSION_SIGNING_UNAVAILABLE", apperrors.CodeOf(err))
	}
}
