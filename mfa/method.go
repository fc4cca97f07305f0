package mfa

import (
	"fmt"
	"strings"
)

// Method names a second factor.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodSMS        Method = "sms"
	MethodEmail      Method = "email"
	MethodBackupCode Method = "backup_code"
)

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mfa method %q", s)
	}
	return m, nil
}

func (m Method) Valid() bool {
	switch m {
	case MethodTOTP, MethodSMS, MethodEmail, MethodBackupCode:
		return true
	}
	return false
}

// Delivered reports whether the code for m is sent to the user.
func (m Method) Delivered() bool {
	return m == MethodSMS || m == MethodEmail
}

// Enrollment is the persisted second-factor state of an identity.
type Enrollment struct {
	TOTPSecret           string
	Phone                string
	Email                string
	BackupCodesRemaining int
}

// Methods lists the enrolled methods in a stable order. Backup codes only
// count as a method when another factor is enrolled.
func (e Enrollment) Methods() []Method {
	var out []Method
	if e.TOTPSecret != "" {
		out = append(out, MethodTOTP)
	}
	if e.Phone != "" {
		out = append(out, MethodSMS)
	}
	if e.Email != "" {
		out = append(out, MethodEmail)
	}
	if len(out) > 0 && e.BackupCodesRemaining > 0 {
		out = append(out, MethodBackupCode)
	}
	return out
}

func (e Enrollment) Enabled() bool {
	return len(e.Methods()) > 0
}

// Destination returns where a delivered code for m is sent.
func (e Enrollment) Destination(m Method) string {
	switch m {
	case MethodSMS:
		return e.Phone
	case MethodEmail:
		return e.Email
	}
	return ""
}

func MethodStrings(ms []Method) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
