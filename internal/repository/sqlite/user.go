package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sakif/user-directory/internal/apperror"
	"github.com/sakif/user-directory/internal/model"
	"github.com/sakif/user-directory/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
//
// ATOMIC CONFLICT DETECTION:
// We deliberately let the INSERT hit the constraint instead of SELECTing
// first. modernc.org/sqlite surfaces constraint failures as *sqlite.Error
// with extended code SQLITE_CONSTRAINT_UNIQUE (2067); older paths can report
// the plain SQLITE_CONSTRAINT (19), so we accept both.
func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
		se.Code() == sqlite3lib.SQLITE_CONSTRAINT
}

// Create inserts a new user record, generating its ID and timestamps.
// Returns apperror.ErrConflict when the email (or external id) is taken —
// the UNIQUE constraint is the single source of truth for uniqueness.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar, avatar_source, external_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.Avatar,
		user.AvatarSource,
		user.ExternalID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("This email already exist")
		}
		return fmt.Errorf("sqlite: inserting user (email=%s): %w", user.Email, err)
	}

	return nil
}

// GetByEmail retrieves a user record by email.
// Returns apperror.ErrNotFound if no record exists for that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getOne(ctx,
		`SELECT id, email, name, avatar, avatar_source, external_id, created_at, updated_at
		 FROM users WHERE email = ?`, email)
}

// GetByExternalID retrieves a user record by the upstream directory's id.
// Returns apperror.ErrNotFound if no record has been linked to that id yet.
func (db *DB) GetByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	return db.getOne(ctx,
		`SELECT id, email, name, avatar, avatar_source, external_id, created_at, updated_at
		 FROM users WHERE external_id = ?`, externalID)
}

// getOne runs a single-row query and scans it into a model.User.
// Both lookups share the same column list, so the scan lives in one place.
func (db *DB) getOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User

	err := db.conn.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Avatar,
		&u.AvatarSource,
		&u.ExternalID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("User does not exist")
		}
		return nil, fmt.Errorf("sqlite: getting user: %w", err)
	}

	return &u, nil
}

// UpdateAvatar records the cached avatar filename and its upstream source URL
// for an existing record. The source URL is the freshness fingerprint: the
// avatar flow re-downloads whenever the upstream URL no longer matches it.
func (db *DB) UpdateAvatar(ctx context.Context, id, filename, source string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET avatar = ?, avatar_source = ?, updated_at = ? WHERE id = ?`,
		filename, source, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating avatar for user %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking avatar update for user %s: %w", id, err)
	}
	if affected == 0 {
		return apperror.NotFound("User does not exist")
	}

	return nil
}

// Delete removes a user record by its internal ID.
// Returns apperror.ErrNotFound if no record exists with that ID.
func (db *DB) Delete(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking delete for user %s: %w", id, err)
	}
	if affected == 0 {
		return apperror.NotFound("User does not exist")
	}

	return nil
}
