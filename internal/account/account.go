// Package account provides local account management for provider logins.
package account

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/platform/id"
)

// ErrEmptySubject indicates a provider identity without a stable subject.
var ErrEmptySubject = apperrors.New(apperrors.CodeProviderMalformed, "provider subject is required")

// Account represents a local identity record.
//
// ProviderSubject is the only field treated as a stable foreign key to the
// remote identity; display fields may change between logins.
type Account struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"name"`
	Login           string    `json:"login"`
	AvatarURL       string    `json:"avatar"`
	Email           string    `json:"email"`
	Admin           bool      `json:"admin"`
	Provider        string    `json:"provider"`
	ProviderSubject string    `json:"provider_subject"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateInput describes the metadata needed to create an account.
type CreateInput struct {
	DisplayName     string
	Login           string
	AvatarURL       string
	Email           string
	Provider        string
	ProviderSubject string
}

// Create builds a durable account record from a first-time provider login.
//
// This is the canonical point where an untrusted remote profile becomes a
// stable local identity. New accounts are never administrators.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Account{}, err
	}

	accountID, err := idGenerator()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	return Account{
		ID:              accountID,
		DisplayName:     normalized.DisplayName,
		Login:           normalized.Login,
		AvatarURL:       normalized.AvatarURL,
		Email:           normalized.Email,
		Admin:           false,
		Provider:        normalized.Provider,
		ProviderSubject: normalized.ProviderSubject,
		CreatedAt:       now().UTC(),
	}, nil
}

// NormalizeCreateInput trims input and enforces required linkage fields.
//
// Email stays empty when the provider did not grant the email scope; that is
// a valid account, not an error.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.Provider = strings.TrimSpace(input.Provider)
	input.ProviderSubject = strings.TrimSpace(input.ProviderSubject)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Login = strings.TrimSpace(input.Login)
	input.Email = strings.TrimSpace(input.Email)
	input.AvatarURL = strings.TrimSpace(input.AvatarURL)

	if input.Provider == "" {
		return CreateInput{}, fmt.Errorf("provider is required")
	}
	if input.ProviderSubject == "" {
		return CreateInput{}, ErrEmptySubject
	}
	if input.Login == "" {
		input.Login = input.ProviderSubject
	}
	if input.DisplayName == "" {
		input.DisplayName = input.Login
	}
	return input, nil
}
