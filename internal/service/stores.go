package service

import (
	"context"
	"time"

	"consultancy/api/internal/models"
)

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit int, offset int) ([]models.User, int, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string) error
	SetMFASecret(ctx context.Context, id string, secret string) error
	EnableMFA(ctx context.Context, id string) error
	DisableMFA(ctx context.Context, id string) error
	Anonymize(ctx context.Context, id string, placeholderEmail string) error
	CountByStatus(ctx context.Context) (map[models.UserStatus]int, error)
	CountByRole(ctx context.Context) (map[models.UserRole]int, error)
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	FindByRefreshHash(ctx context.Context, userID string, refreshHash []byte) (*models.Session, error)
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountActive(ctx context.Context) (int, error)
	DeleteByID(ctx context.Context, userID string, id string) error
	DeleteByRefreshHash(ctx context.Context, userID string, refreshHash []byte) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error
	Touch(ctx context.Context, sessionID string, ip string, userAgent string) error
}

type TokenStore interface {
	Create(ctx context.Context, token models.VerificationToken) error
	Consume(ctx context.Context, tokenHash []byte, purpose models.TokenPurpose, apply func(ctx context.Context, userID string) error) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Mailer interface {
	SendVerification(ctx context.Context, to string, name string, token string)
	SendPasswordReset(ctx context.Context, to string, name string, token string)
	SendPasswordChanged(ctx context.Context, to string, name string)
}

type ReplayGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Exporter stores an export archive and returns a time-limited download URL.
type Exporter interface {
	PutExport(ctx context.Context, key string, body []byte) (string, time.Time, error)
}
