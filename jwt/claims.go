package jwt

import (
	"errors"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Kind is the token kind, carried as the audience.
type Kind string

const (
	KindAccess          Kind = "access"
	KindRefresh         Kind = "refresh"
	KindReauthorization Kind = "reauthorization"
)

var errIncompleteClaims = errors.New("subject and email are required")

// IdentityClaims are shared by every token kind.
type IdentityClaims struct {
	Email          string `json:"email"`
	SessionVersion uint64 `json:"sv"`
	jwt.RegisteredClaims
}

// Validate is called by the parser after the registered claims are checked.
func (c IdentityClaims) Validate() error {
	if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Email) == "" {
		return errIncompleteClaims
	}
	return nil
}

type AccessClaims struct {
	IdentityClaims
}

// RefreshClaims carry a unique jti per mint in RegisteredClaims.ID.
type RefreshClaims struct {
	IdentityClaims
}

func (c RefreshClaims) Validate() error {
	if err := c.IdentityClaims.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		return errors.New("refresh token requires jti")
	}
	return nil
}

// ReauthClaims authorize a short list of sensitive operations.
type ReauthClaims struct {
	Purpose    string   `json:"purpose"`
	Operations []string `json:"ops"`
	IdentityClaims
}

func (c ReauthClaims) Validate() error {
	if err := c.IdentityClaims.Validate(); err != nil {
		return err
	}
	if len(c.Operations) == 0 {
		return errors.New("reauthorization token requires ops")
	}
	return nil
}

// Allows reports whether op is listed in the token.
func (c *ReauthClaims) Allows(op string) bool {
	return slices.Contains(c.Operations, op)
}
