package service

import (
	"context"
)

type MFASetup struct {
	Secret string
	URL    string
}

// SetupMFA stores a fresh secret for the user. MFA stays off until EnableMFA
// confirms the authenticator app produces valid codes.
func (s *AuthService) SetupMFA(ctx context.Context, userID string) (MFASetup, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return MFASetup{}, err
	}
	if user.MFAEnabled {
		return MFASetup{}, ErrMFAAlreadyEnabled
	}

	secret, url, err := s.totp.Generate(user.Email)
	if err != nil {
		return MFASetup{}, err
	}
	if err := s.users.SetMFASecret(ctx, user.ID, secret); err != nil {
		return MFASetup{}, err
	}
	return MFASetup{Secret: secret, URL: url}, nil
}

func (s *AuthService) EnableMFA(ctx context.Context, userID string, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if user.MFASecret == nil {
		return ErrMFASetupRequired
	}
	if err := s.checkTOTP(ctx, user, code); err != nil {
		return err
	}
	if err := s.users.EnableMFA(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("mfa enabled")
	return nil
}

func (s *AuthService) DisableMFA(ctx context.Context, userID string, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	if err := s.checkTOTP(ctx, user, code); err != nil {
		return err
	}
	if err := s.users.DisableMFA(ctx, user.ID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("mfa disabled")
	return nil
}
