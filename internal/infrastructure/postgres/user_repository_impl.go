package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uiseongsang/test-code-with-architecture/internal/domain/entity"
	"github.com/uiseongsang/test-code-with-architecture/internal/domain/repository"
)

var errNotFound = errors.New("not found")

const userColumns = `id, email, nickname, address, status, certification_code, last_login_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*entity.User, error) {
	u := &entity.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Nickname, &u.Address, &u.Status,
		&u.CertificationCode, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Save inserts a new row. Existing rows are never written wholesale; the
// narrow mutations below each own their columns, so a request holding a stale
// snapshot cannot clobber a concurrent writer's change.
func (r *UserRepository) Save(ctx context.Context, u *entity.User) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, nickname, address, status, certification_code, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns+`
	`, u.Email, u.Nickname, u.Address, u.Status, u.CertificationCode, u.LastLoginAt)
	saved, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, errNotFound
	}
	return saved, nil
}

// Activate flips the status in one conditional statement. The certification
// code sits in the predicate, so a non-matching code touches zero rows and
// scanUser reports (nil, nil).
func (r *UserRepository) Activate(ctx context.Context, id int64, certificationCode string) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET status = $1, updated_at = now()
		WHERE id = $2 AND certification_code = $3
		RETURNING `+userColumns+`
	`, entity.StatusActive, id, certificationCode)
	return scanUser(row)
}

// UpdateProfile writes only the supplied fields; a nil pointer binds NULL and
// COALESCE keeps the stored value.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, address, nickname *string) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET address = COALESCE($1::text, address),
		    nickname = COALESCE($2::text, nickname),
		    updated_at = now()
		WHERE id = $3
		RETURNING `+userColumns+`
	`, address, nickname, id)
	return scanUser(row)
}

// RecordLogin touches last_login_at and nothing else.
func (r *UserRepository) RecordLogin(ctx context.Context, id int64, at time.Time) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET last_login_at = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+userColumns+`
	`, at, id)
	return scanUser(row)
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *UserRepository) FindByIDAndStatus(ctx context.Context, id int64, status entity.UserStatus) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND status = $2
	`, id, status)
	return scanUser(row)
}

func (r *UserRepository) FindByEmailAndStatus(ctx context.Context, email string, status entity.UserStatus) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND status = $2
	`, email, status)
	return scanUser(row)
}

var _ repository.UserRepository = (*UserRepository)(nil)
