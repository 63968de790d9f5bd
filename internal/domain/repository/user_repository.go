package repository

import (
	"context"
	"time"

	"github.com/uiseongsang/test-code-with-architecture/internal/domain/entity"
)

// UserRepository defines the interface for user persistence.
//
// Find methods return (nil, nil) when no row matches; deciding whether an
// absent row is an error belongs to the caller. The status-taking variants
// apply the status as a query predicate, not as a post-fetch filter, so an
// unverified account cannot leak through them.
// Mutations on existing rows are narrow, single-statement writes: each one
// touches only the columns it owns, so two requests racing on the same user
// cannot overwrite each other's fields with stale snapshots.
type UserRepository interface {
	// Save inserts a new user. The store enforces email uniqueness;
	// violations surface as driver errors.
	Save(ctx context.Context, u *entity.User) (*entity.User, error)
	// Activate flips status to ACTIVE in one conditional statement; the
	// certification code is part of the predicate.
	Activate(ctx context.Context, id int64, certificationCode string) (*entity.User, error)
	// UpdateProfile applies only the supplied fields; nil leaves the
	// column untouched.
	UpdateProfile(ctx context.Context, id int64, address, nickname *string) (*entity.User, error)
	// RecordLogin sets last_login_at and nothing else.
	RecordLogin(ctx context.Context, id int64, at time.Time) (*entity.User, error)
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	FindByIDAndStatus(ctx context.Context, id int64, status entity.UserStatus) (*entity.User, error)
	FindByEmailAndStatus(ctx context.Context, email string, status entity.UserStatus) (*entity.User, error)
}
