package oauth

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default Casdoor endpoint paths, appended to the provider base URL.
const (
	defaultAuthorizePath = "/login/oauth/authorize"
	defaultTokenPath     = "/login/oauth/access_token"
	defaultUserInfoPath  = "/api/userinfo"
)

// Config describes the provider login configuration.
type Config struct {
	Provider      *ProviderConfig
	LoginStateTTL time.Duration
	SessionTTL    time.Duration
}

// ProviderConfig describes an external OAuth provider configuration.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// oauthEnv holds raw env values for provider login configuration.
type oauthEnv struct {
	ClientID        string        `env:"SIGNET_OAUTH_CLIENT_ID"`
	ClientSecret    string        `env:"SIGNET_OAUTH_CLIENT_SECRET"`
	ProviderURL     string        `env:"SIGNET_OAUTH_PROVIDER_URL"`
	CallbackBaseURL string        `env:"SIGNET_OAUTH_CALLBACK_BASE_URL"`
	Scopes          []string      `env:"SIGNET_OAUTH_SCOPES"    envSeparator:","`
	LoginStateTTL   time.Duration `env:"SIGNET_OAUTH_STATE_TTL" envDefault:"10m"`
	SessionTTL      time.Duration `env:"SIGNET_OAUTH_SESSION_TTL" envDefault:"1h"`
}

// LoadConfigFromEnv loads provider login configuration from environment
// variables. The provider entry is nil unless both client credentials are
// set, which disables the login routes without failing startup.
func LoadConfigFromEnv() Config {
	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return Config{
			LoginStateTTL: 10 * time.Minute,
			SessionTTL:    time.Hour,
		}
	}

	return Config{
		Provider:      buildProvider(raw),
		LoginStateTTL: raw.LoginStateTTL,
		SessionTTL:    raw.SessionTTL,
	}
}

func buildProvider(raw oauthEnv) *ProviderConfig {
	clientID := strings.TrimSpace(raw.ClientID)
	clientSecret := strings.TrimSpace(raw.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil
	}

	base := strings.TrimRight(strings.TrimSpace(raw.ProviderURL), "/")
	callback := strings.TrimRight(strings.TrimSpace(raw.CallbackBaseURL), "/")

	scopes := trimCSV(raw.Scopes)
	if len(scopes) == 0 {
		scopes = []string{"profile", "email"}
	}

	return &ProviderConfig{
		Name:         "casdoor",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callback + "/auth/casdoor/callback",
		AuthURL:      base + defaultAuthorizePath,
		TokenURL:     base + defaultTokenPath,
		UserInfoURL:  base + defaultUserInfoPath,
		Scopes:       scopes,
	}
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
