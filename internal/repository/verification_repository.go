package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultancy/api/internal/models"
)

var ErrTokenNotFound = errors.New("verification token not found or expired")

type VerificationRepository struct {
	pool *pgxpool.Pool
}

func NewVerificationRepository(pool *pgxpool.Pool) *VerificationRepository {
	return &VerificationRepository{pool: pool}
}

// Create stores token, replacing any earlier token the user holds for the
// same purpose.
func (r *VerificationRepository) Create(ctx context.Context, token models.VerificationToken) error {
	return withinTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		if _, err := q.Exec(ctx,
			`DELETE FROM verification_tokens WHERE user_id = $1 AND purpose = $2`,
			token.UserID, token.Purpose,
		); err != nil {
			return fmt.Errorf("replace verification token: %w", err)
		}

		const query = `
			INSERT INTO verification_tokens (id, user_id, token_hash, purpose, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`
		if _, err := q.Exec(ctx, query,
			token.ID,
			token.UserID,
			token.TokenHash,
			token.Purpose,
			token.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert verification token: %w", err)
		}
		return nil
	})
}

// Consume deletes the unexpired token matching hash and purpose and runs
// apply with its owner inside the same transaction. When two callers race
// on one token only one of them sees the row; the other gets
// ErrTokenNotFound. An error from apply rolls the deletion back.
func (r *VerificationRepository) Consume(
	ctx context.Context,
	tokenHash []byte,
	purpose models.TokenPurpose,
	apply func(ctx context.Context, userID string) error,
) error {
	return withinTx(ctx, r.pool, func(ctx context.Context) error {
		const query = `
			DELETE FROM verification_tokens
			WHERE token_hash = $1 AND purpose = $2 AND expires_at > NOW()
			RETURNING user_id
		`
		var userID string
		if err := conn(ctx, r.pool).QueryRow(ctx, query, tokenHash, purpose).Scan(&userID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("consume verification token: %w", err)
		}
		return apply(ctx, userID)
	})
}

func (r *VerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	cmd, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteAllForUser drops every outstanding token of the user, whatever its
// purpose.
func (r *VerificationRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM verification_tokens WHERE user_id = $1`, userID)
	return err
}
