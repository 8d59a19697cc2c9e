package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"consultancy/api/internal/config"
	"consultancy/api/internal/ids"
	"consultancy/api/internal/models"
	"consultancy/api/internal/security"
)

type AuthDeps struct {
	Users    UserStore
	Sessions SessionStore
	Tokens   TokenStore
	Tx       TxRunner
	Codec    *security.TokenCodec
	Hasher   *security.PasswordHasher
	TOTP     security.TOTP
	Replay   ReplayGuard
	Mailer   Mailer
	Exporter Exporter
	Log      zerolog.Logger
}

type AuthService struct {
	users    UserStore
	sessions SessionStore
	tokens   TokenStore
	tx       TxRunner
	codec    *security.TokenCodec
	hasher   *security.PasswordHasher
	totp     security.TOTP
	replay   ReplayGuard
	mailer   Mailer
	exporter Exporter
	cfg      config.SecurityConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(deps AuthDeps, cfg config.SecurityConfig) *AuthService {
	return &AuthService{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		tx:       deps.Tx,
		codec:    deps.Codec,
		hasher:   deps.Hasher,
		totp:     deps.TOTP,
		replay:   deps.Replay,
		mailer:   deps.Mailer,
		exporter: deps.Exporter,
		cfg:      cfg,
		log:      deps.Log,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Company   *string
}

// Register creates a pending client account and mails a verification link.
// No tokens are issued until the address is verified and the user logs in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (string, error) {
	input.Email = normalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if input.Email == "" {
		return "", newValidationError("email is required")
	}
	var problems []string
	if input.FirstName == "" {
		problems = append(problems, "firstName is required")
	}
	if input.LastName == "" {
		problems = append(problems, "lastName is required")
	}
	if err := validatePassword(input.Password); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return "", err
		}
		problems = append(problems, verr.Errors...)
	}
	if len(problems) > 0 {
		return "", newValidationError(problems...)
	}

	existing, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrDuplicateEmail
	}

	passwordHash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return "", err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Company:      trimOptional(input.Company),
		Role:         models.UserRoleClient,
		Status:       models.UserStatusPending,
	}

	var rawToken string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		rawToken, err = s.issueToken(ctx, user.ID, models.PurposeEmailVerify, s.cfg.VerificationTTL)
		return err
	})
	if err != nil {
		return "", err
	}

	s.mailer.SendVerification(ctx, user.Email, user.DisplayName(), rawToken)
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user.ID, nil
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is either a full token pair or, for MFA accounts, a short-lived
// challenge token to be exchanged through VerifyMFA.
type LoginResult struct {
	RequiresMFA  bool
	MFAToken     string
	AccessToken  string
	RefreshToken string
	User         models.PublicUser
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	email := normalizeEmail(input.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if user == nil {
		s.hasher.CompareDummy(ctx, input.Password)
		return LoginResult{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, input.Password)
	if err != nil {
		if ctx.Err() != nil {
			return LoginResult{}, ctx.Err()
		}
		// an erased account has no usable hash
		s.log.Debug().Err(err).Str("user_id", user.ID).Msg("password compare failed")
		return LoginResult{}, ErrInvalidCredentials
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsActive() {
		return LoginResult{}, ErrAccountInactive
	}

	if user.MFAEnabled {
		challenge, err := s.codec.IssueMFAToken(*user)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{RequiresMFA: true, MFAToken: challenge.Token}, nil
	}

	return s.completeLogin(ctx, *user, input.IPAddress, input.UserAgent)
}

type MFALoginInput struct {
	MFAToken  string
	Code      string
	IPAddress string
	UserAgent string
}

func (s *AuthService) VerifyMFA(ctx context.Context, input MFALoginInput) (LoginResult, error) {
	claims, err := s.codec.VerifyMFA(input.MFAToken)
	if err != nil {
		return LoginResult{}, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return LoginResult{}, err
	}
	if user == nil || !user.MFAEnabled || user.MFASecret == nil {
		return LoginResult{}, ErrInvalidToken
	}
	if !user.IsActive() {
		return LoginResult{}, ErrAccountInactive
	}

	if err := s.checkTOTP(ctx, *user, input.Code); err != nil {
		return LoginResult{}, err
	}

	return s.completeLogin(ctx, *user, input.IPAddress, input.UserAgent)
}

// checkTOTP validates code against the user's secret and burns it so the
// same code cannot be replayed while it is still inside the accepted window.
func (s *AuthService) checkTOTP(ctx context.Context, user models.User, code string) error {
	if user.MFASecret == nil || !s.totp.Validate(code, *user.MFASecret, s.now()) {
		return ErrInvalidMFACode
	}
	first, err := s.replay.Claim(ctx, "totp:"+user.ID+":"+code, s.totp.ReplayWindow())
	if err != nil {
		return err
	}
	if !first {
		s.log.Warn().Str("user_id", user.ID).Msg("totp code replay rejected")
		return ErrInvalidMFACode
	}
	return nil
}

func (s *AuthService) completeLogin(ctx context.Context, user models.User, ipAddress string, userAgent string) (LoginResult, error) {
	refresh, err := s.codec.IssueRefreshToken(user)
	if err != nil {
		return LoginResult{}, err
	}

	session := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		RefreshTokenHash: security.HashToken(refresh.Token),
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
		ExpiresAt:        refresh.ExpiresAt,
	}

	access, err := s.codec.IssueAccessToken(user, session.ID)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("update last login failed")
	}

	return LoginResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		User:         user.Public(),
	}, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.cfg.MaxSessions {
		return nil
	}

	return s.sessions.DeleteOldestSessions(ctx, userID, s.cfg.MaxSessions)
}

type RefreshInput struct {
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

// Refresh exchanges a live refresh token for a new access token. The refresh
// token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (string, error) {
	claims, err := s.codec.VerifyRefresh(input.RefreshToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	userID := claims.UserID()

	session, err := s.sessions.FindByRefreshHash(ctx, userID, security.HashToken(input.RefreshToken))
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrInvalidToken
	}
	if session.Expired(s.now()) {
		if err := s.sessions.DeleteByID(ctx, userID, session.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", session.ID).Msg("delete expired session failed")
		}
		return "", ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidToken
	}
	if !user.IsActive() {
		return "", ErrAccountInactive
	}

	access, err := s.codec.IssueAccessToken(*user, session.ID)
	if err != nil {
		return "", err
	}

	if err := s.sessions.Touch(ctx, session.ID, input.IPAddress, input.UserAgent); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("touch session failed")
	}
	return access.Token, nil
}

// Logout ends the session bound to refreshToken, or every session of the
// user when no token is given. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, userID string, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.DeleteByRefreshHash(ctx, userID, security.HashToken(refreshToken))
	}
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Int64("sessions", n).Msg("logged out everywhere")
	return nil
}

// VerifyEmail consumes an email verification token and returns the verified
// address.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidOrExpiredToken
	}

	var email string
	err := s.tokens.Consume(ctx, security.HashToken(token), models.PurposeEmailVerify, func(ctx context.Context, userID string) error {
		user, err := s.redeemableUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
			return err
		}
		email = user.Email
		return nil
	})
	if err != nil {
		return "", err
	}
	return email, nil
}

// ResendVerification re-issues a verification link for pending accounts.
// It answers the same way whether or not the address is known.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || user.Status != models.UserStatusPending {
		return nil
	}

	rawToken, err := s.issueToken(ctx, user.ID, models.PurposeEmailVerify, s.cfg.VerificationTTL)
	if err != nil {
		return err
	}
	s.mailer.SendVerification(ctx, user.Email, user.DisplayName(), rawToken)
	return nil
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || user.Status == models.UserStatusDeleted {
		return nil
	}

	rawToken, err := s.issueToken(ctx, user.ID, models.PurposePasswordReset, s.cfg.ResetTTL)
	if err != nil {
		return err
	}
	s.mailer.SendPasswordReset(ctx, user.Email, user.DisplayName(), rawToken)
	return nil
}

// ResetPassword consumes a reset token, stores the new password and signs the
// user out of every device.
func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidOrExpiredToken
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	var user *models.User
	err = s.tokens.Consume(ctx, security.HashToken(token), models.PurposePasswordReset, func(ctx context.Context, userID string) error {
		owner, err := s.redeemableUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
			return err
		}
		if _, err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}
		user = owner
		return nil
	})
	if err != nil {
		return err
	}

	if user != nil {
		s.mailer.SendPasswordChanged(ctx, user.Email, user.DisplayName())
		s.log.Info().Str("user_id", user.ID).Msg("password reset")
	}
	return nil
}

// redeemableUser loads the owner of a token being consumed. Tokens of erased
// accounts are treated as unknown.
func (s *AuthService) redeemableUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status == models.UserStatusDeleted {
		return nil, ErrInvalidOrExpiredToken
	}
	return user, nil
}

func (s *AuthService) issueToken(ctx context.Context, userID string, purpose models.TokenPurpose, ttl time.Duration) (string, error) {
	raw, hash, err := security.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := s.tokens.Create(ctx, models.VerificationToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hash,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(ttl),
	}); err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}
	return raw, nil
}

func (s *AuthService) loadUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if user == nil || user.Status == models.UserStatusDeleted {
		return models.User{}, ErrNotFound
	}
	return *user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
