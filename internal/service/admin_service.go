package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"consultancy/api/internal/models"
	"consultancy/api/internal/repository"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type AdminService struct {
	users    UserStore
	sessions SessionStore
	tx       TxRunner
	log      zerolog.Logger
}

func NewAdminService(users UserStore, sessions SessionStore, tx TxRunner, log zerolog.Logger) *AdminService {
	return &AdminService{
		users:    users,
		sessions: sessions,
		tx:       tx,
		log:      log,
	}
}

// Actor identifies the administrator performing a change.
type Actor struct {
	ID   string
	Role models.UserRole
}

type UserPage struct {
	Users   []models.PublicUser `json:"users"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"perPage"`
}

func (s *AdminService) ListUsers(ctx context.Context, page int, perPage int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	users, total, err := s.users.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return UserPage{}, err
	}

	result := UserPage{
		Users:   make([]models.PublicUser, 0, len(users)),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
	for _, user := range users {
		result.Users = append(result.Users, user.Public())
	}
	return result, nil
}

// SetStatus changes an account's status. Only a super admin may touch a
// super admin, nobody may change their own status, and erasure has its own
// flow. Suspending an account ends all of its sessions.
func (s *AdminService) SetStatus(ctx context.Context, actor Actor, userID string, status models.UserStatus) error {
	if !status.Valid() || status == models.UserStatusDeleted {
		return newValidationError("status must be one of active, pending, suspended")
	}
	if actor.ID == userID {
		return ErrForbidden
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if target == nil || target.Status == models.UserStatusDeleted {
		return ErrNotFound
	}
	if target.Role == models.UserRoleSuperAdmin && actor.Role != models.UserRoleSuperAdmin {
		return ErrForbidden
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.UpdateStatus(ctx, userID, status); err != nil {
			return err
		}
		if status == models.UserStatusSuspended {
			_, err := s.sessions.DeleteAllForUser(ctx, userID)
			return err
		}
		return nil
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	s.log.Info().
		Str("actor_id", actor.ID).
		Str("user_id", userID).
		Str("status", string(status)).
		Msg("account status changed")
	return nil
}

type Stats struct {
	TotalUsers     int            `json:"totalUsers"`
	UsersByStatus  map[string]int `json:"usersByStatus"`
	UsersByRole    map[string]int `json:"usersByRole"`
	ActiveSessions int            `json:"activeSessions"`
}

func (s *AdminService) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := s.users.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	byRole, err := s.users.CountByRole(ctx)
	if err != nil {
		return Stats{}, err
	}
	sessions, err := s.sessions.CountActive(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		UsersByStatus:  make(map[string]int, len(byStatus)),
		UsersByRole:    make(map[string]int, len(byRole)),
		ActiveSessions: sessions,
	}
	for status, n := range byStatus {
		stats.UsersByStatus[string(status)] = n
		stats.TotalUsers += n
	}
	for role, n := range byRole {
		stats.UsersByRole[string(role)] = n
	}
	return stats, nil
}
