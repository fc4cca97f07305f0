package mfa

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPConfig mirrors the otpauth parameters authenticator apps understand.
type TOTPConfig struct {
	Issuer    string
	Period    uint
	Digits    otp.Digits
	Skew      uint
	Algorithm otp.Algorithm
	QRSize    int
}

func DefaultTOTPConfig(issuer string) TOTPConfig {
	return TOTPConfig{
		Issuer:    issuer,
		Period:    30,
		Digits:    otp.DigitsSix,
		Skew:      1,
		Algorithm: otp.AlgorithmSHA1,
		QRSize:    200,
	}
}

// TOTPEnrollment is handed to the user when they start TOTP setup.
type TOTPEnrollment struct {
	Secret string
	URL    string
	QRPNG  []byte
}

type TOTP struct {
	cfg TOTPConfig
}

func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("totp issuer is required")
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits == 0 {
		cfg.Digits = otp.DigitsSix
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 200
	}
	if cfg.Skew > 2 {
		return nil, errors.New("totp skew must be <= 2")
	}
	return &TOTP{cfg: cfg}, nil
}

// Generate creates a fresh secret for account.
func (t *TOTP) Generate(account string) (TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: account,
		Period:      t.cfg.Period,
		Digits:      t.cfg.Digits,
		Algorithm:   t.cfg.Algorithm,
	})
	if err != nil {
		return TOTPEnrollment{}, err
	}

	img, err := key.Image(t.cfg.QRSize, t.cfg.QRSize)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TOTPEnrollment{}, err
	}

	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL(), QRPNG: buf.Bytes()}, nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.cfg.Period,
		Skew:      0,
		Digits:    t.cfg.Digits,
		Algorithm: t.cfg.Algorithm,
	}
}

// Code returns the code for the step containing at.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, t.opts())
}

// Match checks code against every step within the configured skew and
// returns the matching step counter.
func (t *TOTP) Match(secret, code string, now time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.cfg.Digits.Length() {
		return 0, false, nil
	}

	period := int64(t.cfg.Period)
	base := now.Unix() / period
	skew := int64(t.cfg.Skew)
	for off := -skew; off <= skew; off++ {
		step := base + off
		if step < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0), t.opts())
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

// ReplayWindow is how long a used step must be remembered.
func (t *TOTP) ReplayWindow() time.Duration {
	return time.Duration(2*t.cfg.Skew+1) * time.Duration(t.cfg.Period) * time.Second
}
