package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/louisbranch/signet/internal/platform/errors"
	"github.com/louisbranch/signet/internal/storage"
)

// PutLoginState stores a one-time state-to-verifier correlation entry.
func (s *Store) PutLoginState(ctx context.Context, entry storage.LoginState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(entry.State) == "" {
		return errors.New("login state is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO login_states (state, verifier, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		entry.State, entry.Verifier, toMillis(entry.CreatedAt), toMillis(entry.ExpiresAt),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "put login state", err)
	}
	return nil
}

// TakeLoginState atomically retrieves and deletes a correlation entry.
//
// The delete and the read happen in one transaction so a replayed callback
// cannot observe the entry twice. Expired entries behave exactly like deleted
// ones.
func (s *Store) TakeLoginState(ctx context.Context, state string, now time.Time) (storage.LoginState, error) {
	if err := ctx.Err(); err != nil {
		return storage.LoginState{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.LoginState{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.LoginState{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "begin take login state", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var entry storage.LoginState
	var createdAt, expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT state, verifier, created_at, expires_at FROM login_states WHERE state = ?`,
		state,
	).Scan(&entry.State, &entry.Verifier, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LoginState{}, storage.ErrNotFound
		}
		return storage.LoginState{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "read login state", err)
	}
	entry.CreatedAt = fromMillis(createdAt)
	entry.ExpiresAt = fromMillis(expiresAt)

	if _, err := tx.ExecContext(ctx, `DELETE FROM login_states WHERE state = ?`, state); err != nil {
		return storage.LoginState{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "consume login state", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.LoginState{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "commit take login state", err)
	}

	if !entry.ExpiresAt.After(now.UTC()) {
		return storage.LoginState{}, storage.ErrNotFound
	}
	return entry, nil
}

// DeleteExpiredLoginStates removes entries whose TTL elapsed.
//
// This is a hygiene sweep; TakeLoginState never returns expired entries even
// when the sweep has not run yet.
func (s *Store) DeleteExpiredLoginStates(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM login_states WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "delete expired login states", err)
	}
	return nil
}
