package models

import (
	"strings"
	"time"
)

type UserRole string

const (
	UserRoleVisitor    UserRole = "visitor"
	UserRoleClient     UserRole = "client"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "super_admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleVisitor, UserRoleClient, UserRoleAdmin, UserRoleSuperAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusPending   UserStatus = "pending"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusPending, UserStatusSuspended, UserStatusDeleted:
		return true
	}
	return false
}

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	Company         *string
	Role            UserRole
	Status          UserStatus
	MFASecret       *string
	MFAEnabled      bool
	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// PublicUser is the projection of a user that leaves the service layer.
type PublicUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Name       string     `json:"name"`
	Company    *string    `json:"company,omitempty"`
	Role       UserRole   `json:"role"`
	Status     UserStatus `json:"status"`
	MFAEnabled bool       `json:"mfaEnabled"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Name:       u.DisplayName(),
		Company:    u.Company,
		Role:       u.Role,
		Status:     u.Status,
		MFAEnabled: u.MFAEnabled,
		CreatedAt:  u.CreatedAt,
	}
}

type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash []byte
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastSeenAt       time.Time
	ExpiresAt        time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
