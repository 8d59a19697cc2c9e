package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultancy/api/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("user already exists")
)

const uniqueViolation = "23505"

const userColumns = `
	id, email, password_hash, first_name, last_name, company, role, status,
	mfa_secret, mfa_enabled, email_verified_at, last_login_at, created_at, updated_at
`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, company, role, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()
		)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Company,
		user.Role,
		user.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByEmail returns nil without an error when no user has the address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.fetchOne(ctx, query, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.fetchOne(ctx, query, id)
}

func (r *UserRepository) fetchOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context, limit int, offset int) ([]models.User, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	rows, err := q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	const query = `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, status)
}

// MarkEmailVerified stamps the verification time and promotes a pending
// account to active. Other statuses are left alone.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET email_verified_at = COALESCE(email_verified_at, NOW()),
		    status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	const query = `UPDATE users SET last_login_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *UserRepository) SetMFASecret(ctx context.Context, id string, secret string) error {
	const query = `UPDATE users SET mfa_secret = $2, mfa_enabled = FALSE, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, secret)
}

func (r *UserRepository) EnableMFA(ctx context.Context, id string) error {
	const query = `UPDATE users SET mfa_enabled = TRUE, updated_at = NOW() WHERE id = $1 AND mfa_secret IS NOT NULL`
	return r.execOne(ctx, query, id)
}

func (r *UserRepository) DisableMFA(ctx context.Context, id string) error {
	const query = `UPDATE users SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// Anonymize scrubs personal data and marks the account deleted. The row is
// kept so foreign keys and audit counts stay intact.
func (r *UserRepository) Anonymize(ctx context.Context, id string, placeholderEmail string) error {
	const query = `
		UPDATE users
		SET email = $2,
		    password_hash = '',
		    first_name = '',
		    last_name = '',
		    company = NULL,
		    mfa_secret = NULL,
		    mfa_enabled = FALSE,
		    status = 'deleted',
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, placeholderEmail)
}

func (r *UserRepository) CountByStatus(ctx context.Context) (map[models.UserStatus]int, error) {
	counts := make(map[models.UserStatus]int)
	err := r.countGrouped(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`, func(key string, n int) {
		counts[models.UserStatus(key)] = n
	})
	return counts, err
}

func (r *UserRepository) CountByRole(ctx context.Context) (map[models.UserRole]int, error) {
	counts := make(map[models.UserRole]int)
	err := r.countGrouped(ctx, `SELECT role, COUNT(*) FROM users WHERE status <> 'deleted' GROUP BY role`, func(key string, n int) {
		counts[models.UserRole(key)] = n
	})
	return counts, err
}

func (r *UserRepository) countGrouped(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...any) error {
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row scanner) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Company,
		&user.Role,
		&user.Status,
		&user.MFASecret,
		&user.MFAEnabled,
		&user.EmailVerifiedAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}
