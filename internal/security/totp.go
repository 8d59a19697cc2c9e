package security

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

type TOTP struct {
	issuer string
}

func NewTOTP(issuer string) TOTP {
	return TOTP{issuer: issuer}
}

// Generate creates a new shared secret and its otpauth:// provisioning URL.
func (t TOTP) Generate(accountName string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func (t TOTP) Validate(code string, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), t.opts())
	return err == nil && ok
}

func (t TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), t.opts())
}

// ReplayWindow is how long a single code stays acceptable.
func (t TOTP) ReplayWindow() time.Duration {
	return time.Duration(totpPeriod*(2*totpSkew+1)) * time.Second
}

func (t TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
