package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	opaqueTokenSize = 32

	// BackupCodeAlphabet omits characters that are easy to confuse when read aloud.
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewOpaqueToken returns 32 random bytes encoded as unpadded base64url. Used
// for MFA session tokens, OAuth state values and email-change confirmations.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidOpaqueToken reports whether token has the shape produced by NewOpaqueToken.
func ValidOpaqueToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == opaqueTokenSize
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewBackupCode returns length characters from BackupCodeAlphabet split into
// two dash-separated halves, e.g. "K7QX2-M9PLA".
func NewBackupCode(length int) (string, error) {
	if length < 6 {
		return "", errors.New("invalid backup code length")
	}

	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	raw := make([]byte, length)
	for i := range raw {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		raw[i] = BackupCodeAlphabet[n.Int64()]
	}

	half := length / 2
	return string(raw[:half]) + "-" + string(raw[half:]), nil
}

// NormalizeBackupCode upper-cases input and strips separators so that
// "k7qx2 m9pla" and "K7QX2-M9PLA" hash identically.
func NormalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func HashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(NormalizeBackupCode(code)))
}

func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(code)))
}

// EqualHash compares two digests in constant time.
func EqualHash(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
