package repository

import (
	"context"

	"github.com/sakif/user-directory/internal/model"
)

// UserRepository is the persistence contract for local user records.
//
// Create must enforce email uniqueness ATOMICALLY: the implementation relies
// on a storage-level unique constraint and reports a violation as
// apperror.ErrConflict. Callers never do a check-then-create — two
// concurrent identical requests must still yield exactly one record.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.User, error)
	// UpdateAvatar records the cached filename and the upstream URL it was
	// downloaded from, used later as the freshness fingerprint.
	UpdateAvatar(ctx context.Context, id, filename, source string) error
	Delete(ctx context.Context, id string) error
}
