package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/louisbranch/signet/internal/platform/errors"
)

// maxProfileBodySize caps userinfo response reads.
const maxProfileBodySize = 1 << 20

// TokenResult carries the outcome of an authorization code exchange.
type TokenResult struct {
	AccessToken string
	TokenType   string
	Scopes      []string
}

// Profile is the identity document returned by the provider's userinfo
// endpoint. Only Subject is mandatory; email, email_verified, and groups
// in particular depend on the scopes the user granted, so every field other
// than Subject keeps its zero value when absent.
type Profile struct {
	Subject           string   `json:"sub"`
	Issuer            string   `json:"iss"`
	Audience          string   `json:"aud"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	AvatarURL         string   `json:"picture"`
	Email             string   `json:"email"`
	EmailVerified     bool     `json:"email_verified"`
	Groups            []string `json:"groups"`
	Phone             string   `json:"phone"`
	Address           string   `json:"address"`
}

// Client talks to a single external OAuth provider.
type Client struct {
	provider   ProviderConfig
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewClient builds a provider client. A nil httpClient falls back to a
// default with a bounded timeout.
func NewClient(provider ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		provider: provider,
		conf: &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  provider.RedirectURL,
			Scopes:       provider.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   provider.AuthURL,
				TokenURL:  provider.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// BuildAuthorizationURL returns the provider authorization URL carrying the
// given state and PKCE challenge.
func (c *Client) BuildAuthorizationURL(state, challenge string) string {
	return c.conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode redeems an authorization code for an access token, proving
// possession of the PKCE verifier bound to the original request.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenResult{}, classifyExchangeError(err)
	}
	if token.AccessToken == "" {
		return TokenResult{}, apperrors.New(apperrors.CodeProviderMalformed, "token response is missing an access token")
	}
	// Token.Type() canonicalizes an absent token_type to "Bearer"; read the
	// raw field so a response that never declared its type is rejected.
	if token.TokenType == "" {
		return TokenResult{}, apperrors.New(apperrors.CodeProviderMalformed, "token response is missing a token type")
	}

	scope, _ := token.Extra("scope").(string)
	return TokenResult{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Scopes:      SplitScopes(scope),
	}, nil
}

// classifyExchangeError maps a token endpoint failure to a domain error.
//
// A structured OAuth error body means the provider deliberately rejected the
// grant; everything else is either the provider being down or a response we
// cannot make sense of.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			msg := retrieveErr.ErrorCode
			if retrieveErr.ErrorDescription != "" {
				msg += ": " + retrieveErr.ErrorDescription
			}
			return apperrors.Wrap(apperrors.CodeLoginProviderRejected, msg, err)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return apperrors.Wrap(apperrors.CodeProviderUnreachable, "token endpoint is unavailable", err)
		}
		return apperrors.Wrap(apperrors.CodeProviderMalformed, "unexpected token endpoint response", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperrors.Wrap(apperrors.CodeProviderUnreachable, "token endpoint request failed", err)
	}
	return apperrors.Wrap(apperrors.CodeProviderMalformed, "unusable token endpoint response", err)
}

// FetchProfile retrieves the identity document for an access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.provider.UserInfoURL, nil)
	if err != nil {
		return Profile{}, apperrors.Wrap(apperrors.CodeProviderUnreachable, "build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, apperrors.Wrap(apperrors.CodeProviderUnreachable, "userinfo request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return Profile{}, apperrors.Wrap(apperrors.CodeProviderUnreachable, "read userinfo response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Profile{}, apperrors.New(apperrors.CodeProviderDenied, "provider rejected the access token")
	case resp.StatusCode >= http.StatusInternalServerError:
		return Profile{}, apperrors.New(apperrors.CodeProviderUnreachable, "userinfo endpoint is unavailable")
	case resp.StatusCode != http.StatusOK:
		return Profile{}, apperrors.New(apperrors.CodeProviderMalformed, "unexpected userinfo response status")
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return Profile{}, apperrors.Wrap(apperrors.CodeProviderMalformed, "decode userinfo response", err)
	}
	if strings.TrimSpace(profile.Subject) == "" {
		return Profile{}, apperrors.New(apperrors.CodeProviderMalformed, "userinfo response is missing a subject")
	}
	return profile, nil
}

// SplitScopes splits a granted-scope string on commas and whitespace. Some
// providers (GitHub among them) join scopes with commas instead of the
// spec-mandated spaces.
func SplitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
