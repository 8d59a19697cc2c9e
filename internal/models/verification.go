package models

import "time"

type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

type VerificationToken struct {
	ID        string
	UserID    string
	TokenHash []byte
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}
