package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/louisbranch/signet/internal/account"
	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/storage"
)

const accountColumns = `id, display_name, login, avatar_url, email, admin, provider, provider_subject, created_at`

// PutAccount inserts a new account record.
//
// A violation of the (provider, provider_subject) uniqueness constraint is
// reported as storage.ErrAlreadyExists so the caller can resolve the race by
// re-reading the winning record.
func (s *Store) PutAccount(ctx context.Context, a account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DisplayName, a.Login, a.AvatarURL, a.Email, boolToInt(a.Admin),
		a.Provider, a.ProviderSubject, toMillis(a.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "put account", err)
	}
	return nil
}

// GetAccount fetches an account record by ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Account{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	return scanAccount(row)
}

// GetAccountByProviderSubject fetches the account linked to a provider identity.
//
// A missing row reports storage.ErrNotFound; any other failure surfaces as a
// storage error so the reconciler never mistakes an outage for a first login.
func (s *Store) GetAccountByProviderSubject(ctx context.Context, provider, subject string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Account{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider = ? AND provider_subject = ?`,
		provider, subject)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (account.Account, error) {
	var a account.Account
	var admin int
	var createdAt int64
	err := row.Scan(&a.ID, &a.DisplayName, &a.Login, &a.AvatarURL, &a.Email,
		&admin, &a.Provider, &a.ProviderSubject, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "scan account", err)
	}
	a.Admin = admin != 0
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
