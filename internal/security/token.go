package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"consultancy/api/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeMFA     TokenType = "mfa"
)

type Claims struct {
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role,omitempty"`
	SessionID string    `json:"sid,omitempty"`
	Type      TokenType `json:"typ"`
	jwt.RegisteredClaims
}

func (c Claims) UserID() string {
	return c.Subject
}

type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

type TokenCodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFATTL        time.Duration
}

type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	mfaTTL        time.Duration
	now           func() time.Time
}

func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("access token secret is not configured")
	}
	refreshSecret := cfg.RefreshSecret
	if refreshSecret == "" {
		refreshSecret = cfg.AccessSecret
	}

	return &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		mfaTTL:        cfg.MFATTL,
		now:           time.Now,
	}, nil
}

func (c *TokenCodec) IssueAccessToken(user models.User, sessionID string) (IssuedToken, error) {
	return c.sign(c.accessSecret, c.accessTTL, Claims{
		Email:     user.Email,
		Name:      user.DisplayName(),
		Role:      string(user.Role),
		SessionID: sessionID,
		Type:      TokenTypeAccess,
	}, user.ID)
}

func (c *TokenCodec) IssueRefreshToken(user models.User) (IssuedToken, error) {
	return c.sign(c.refreshSecret, c.refreshTTL, Claims{Type: TokenTypeRefresh}, user.ID)
}

// IssueMFAToken returns the restricted challenge handed out between the
// password check and the second factor.
func (c *TokenCodec) IssueMFAToken(user models.User) (IssuedToken, error) {
	return c.sign(c.accessSecret, c.mfaTTL, Claims{Type: TokenTypeMFA}, user.ID)
}

func (c *TokenCodec) VerifyAccess(token string) (*Claims, error) {
	return c.Verify(token, c.accessSecret, TokenTypeAccess)
}

func (c *TokenCodec) VerifyRefresh(token string) (*Claims, error) {
	return c.Verify(token, c.refreshSecret, TokenTypeRefresh)
}

func (c *TokenCodec) VerifyMFA(token string) (*Claims, error) {
	return c.Verify(token, c.accessSecret, TokenTypeMFA)
}

// Verify checks signature, expiry and token type. Every failure collapses
// into ErrInvalidToken.
func (c *TokenCodec) Verify(token string, secret []byte, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) sign(secret []byte, ttl time.Duration, claims Claims, subject string) (IssuedToken, error) {
	now := c.now()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign jwt: %w", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}
