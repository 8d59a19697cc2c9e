package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consultancy/api/internal/ids"
	"consultancy/api/internal/models"
	"consultancy/api/internal/repository"
)

func (s *AuthService) Me(ctx context.Context, userID string) (models.PublicUser, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return models.PublicUser{}, err
	}
	return user.Public(), nil
}

type SessionView struct {
	ID         string    `json:"id"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

// ListSessions returns the user's live sessions, flagging the one the
// caller's access token was issued for.
func (s *AuthService) ListSessions(ctx context.Context, userID string, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:         session.ID,
			IPAddress:  session.IPAddress,
			UserAgent:  session.UserAgent,
			CreatedAt:  session.CreatedAt,
			LastSeenAt: session.LastSeenAt,
			ExpiresAt:  session.ExpiresAt,
			Current:    session.ID == currentSessionID,
		})
	}
	return views, nil
}

func (s *AuthService) RevokeSession(ctx context.Context, userID string, sessionID string) error {
	err := s.sessions.DeleteByID(ctx, userID, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrNotFound
	}
	return err
}

type ExportResult struct {
	URL       string
	ExpiresAt time.Time
}

type exportArchive struct {
	ExportedAt      time.Time         `json:"exportedAt"`
	Profile         models.PublicUser `json:"profile"`
	EmailVerifiedAt *time.Time        `json:"emailVerifiedAt,omitempty"`
	LastLoginAt     *time.Time        `json:"lastLoginAt,omitempty"`
	Sessions        []SessionView     `json:"sessions"`
}

// ExportData writes everything held about the user to the object store and
// returns a short-lived download link.
func (s *AuthService) ExportData(ctx context.Context, userID string) (ExportResult, error) {
	if s.exporter == nil {
		return ExportResult{}, ErrExportUnavailable
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return ExportResult{}, err
	}
	sessions, err := s.ListSessions(ctx, userID, "")
	if err != nil {
		return ExportResult{}, err
	}

	body, err := json.MarshalIndent(exportArchive{
		ExportedAt:      s.now().UTC(),
		Profile:         user.Public(),
		EmailVerifiedAt: user.EmailVerifiedAt,
		LastLoginAt:     user.LastLoginAt,
		Sessions:        sessions,
	}, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("encode export: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s.json", user.ID, ids.New())
	url, expiresAt, err := s.exporter.PutExport(ctx, key, body)
	if err != nil {
		return ExportResult{}, err
	}
	s.log.Info().Str("user_id", user.ID).Str("key", key).Msg("data export written")
	return ExportResult{URL: url, ExpiresAt: expiresAt}, nil
}

// EraseAccount scrubs the user's personal data after re-checking the
// password. The row stays behind with status deleted.
func (s *AuthService) EraseAccount(ctx context.Context, userID string, password string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	placeholder := fmt.Sprintf("deleted+%s@erased.invalid", user.ID)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Anonymize(ctx, user.ID, placeholder); err != nil {
			return err
		}
		if _, err := s.sessions.DeleteAllForUser(ctx, user.ID); err != nil {
			return err
		}
		return s.tokens.DeleteAllForUser(ctx, user.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("account erased")
	return nil
}
