// Package session issues signed session credentials for local accounts.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/signet/internal/account"
	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/platform/id"
)

// DefaultTTL is the validity window for issued session credentials.
const DefaultTTL = time.Hour

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Issuer     string `env:"SIGNET_SESSION_ISSUER"`
	Audience   string `env:"SIGNET_SESSION_AUDIENCE"`
	PrivateKey string `env:"SIGNET_SESSION_PRIVATE_KEY"`
}

// Config defines how session credentials are signed.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	Now      func() time.Time
}

// Claims captures the verified contents of a session credential.
type Claims struct {
	AccountID string
	Login     string
	Admin     bool
	ExpiresAt time.Time
}

// sessionClaims is the internal claims type used for JWT signing and parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	Login string `json:"login,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// LoadConfigFromEnv reads session signing configuration.
//
// The private key is a base64-encoded Ed25519 seed or full private key.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw sessionEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("SIGNET_SESSION_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("SIGNET_SESSION_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("SIGNET_SESSION_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode session private key: %w", err)
	}
	key, err := privateKeyFromBytes(keyBytes)
	if err != nil {
		return Config{}, err
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      key,
		Now:      now,
	}, nil
}

// Issuer signs session credentials for reconciled accounts.
type Issuer struct {
	cfg Config
}

// NewIssuer creates a session issuer from validated configuration.
func NewIssuer(cfg Config) *Issuer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{cfg: cfg}
}

// Issue signs a credential carrying the account id, valid for ttl.
//
// It fails only when signing is unavailable, never on account contents.
func (i *Issuer) Issue(a account.Account, ttl time.Duration) (string, error) {
	if i == nil || len(i.cfg.Key) != ed25519.PrivateKeySize {
		return "", apperrors.New(apperrors.CodeSessionSigningUnavailable, "session signer is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	jti, err := id.NewID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSessionSigningUnavailable, "generate credential id", err)
	}

	now := i.cfg.Now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Login: a.Login,
		Admin: a.Admin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(i.cfg.Key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSessionSigningUnavailable, "sign session credential", err)
	}
	return signed, nil
}

// Verify parses a credential against the issuer's public key.
func (i *Issuer) Verify(credential string) (Claims, error) {
	if i == nil || len(i.cfg.Key) != ed25519.PrivateKeySize {
		return Claims{}, apperrors.New(apperrors.CodeSessionSigningUnavailable, "session signer is not configured")
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return i.cfg.Key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithTimeFunc(func() time.Time { return i.cfg.Now().UTC() }),
	)
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeSessionCredentialInvalid, "invalid session credential", err)
	}

	claims := Claims{
		AccountID: parsed.Subject,
		Login:     parsed.Login,
		Admin:     parsed.Admin,
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

func privateKeyFromBytes(keyBytes []byte) (ed25519.PrivateKey, error) {
	switch len(keyBytes) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(keyBytes), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(keyBytes), nil
	default:
		return nil, fmt.Errorf("session private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(value)
}
