package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/keys"
)

var (
	ErrExpired       = errors.New("token expired")
	ErrMalformed     = errors.New("token malformed or signature invalid")
	ErrInvalidClaims = errors.New("token claims invalid")
)

// Config controls claim validation.
type Config struct {
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Subject is what every minted token says about its identity.
type Subject struct {
	ID             string
	Email          string
	SessionVersion uint64
}

// Codec signs and parses identity tokens. It is safe for concurrent use.
type Codec struct {
	cfg  Config
	keys keys.Source
}

func NewCodec(cfg Config, src keys.Source) (*Codec, error) {
	if src == nil {
		return nil, errors.New("key source is required")
	}
	if _, err := src.SigningKey(); err != nil {
		return nil, err
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	return &Codec{cfg: cfg, keys: src}, nil
}

func (c *Codec) registered(s Subject, kind Kind, ttl time.Duration) IdentityClaims {
	now := c.cfg.Now()
	return IdentityClaims{
		Email:          s.Email,
		SessionVersion: s.SessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{string(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	key, err := c.keys.SigningKey()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(key.Method(), claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.SignKey())
}

func (c *Codec) MintAccess(s Subject, ttl time.Duration) (string, *AccessClaims, error) {
	claims := &AccessClaims{IdentityClaims: c.registered(s, KindAccess, ttl)}
	tok, err := c.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return tok, claims, nil
}

func (c *Codec) MintRefresh(s Subject, ttl time.Duration) (string, *RefreshClaims, error) {
	claims := &RefreshClaims{IdentityClaims: c.registered(s, KindRefresh, ttl)}
	claims.ID = uuid.NewString()
	tok, err := c.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return tok, claims, nil
}

func (c *Codec) MintReauthorization(s Subject, purpose string, ops []string, ttl time.Duration) (string, *ReauthClaims, error) {
	claims := &ReauthClaims{
		Purpose:        purpose,
		Operations:     append([]string(nil), ops...),
		IdentityClaims: c.registered(s, KindReauthorization, ttl),
	}
	tok, err := c.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return tok, claims, nil
}

func (c *Codec) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, KindAccess, claims, &claims.IdentityClaims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, KindRefresh, claims, &claims.IdentityClaims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) ParseReauthorization(token string) (*ReauthClaims, error) {
	claims := &ReauthClaims{}
	if err := c.parse(token, KindReauthorization, claims, &claims.IdentityClaims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) parse(tokenStr string, kind Kind, claims jwt.Claims, base *IdentityClaims) error {
	if tokenStr == "" {
		return ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodEdDSA.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodHS256.Alg(),
		}),
		jwt.WithAudience(string(kind)),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.cfg.Now),
	}
	if c.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.cfg.Leeway))
	}
	if c.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.cfg.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, err := c.keys.VerificationKey(kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != key.Method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key.VerifyKey(), nil
	})
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrInvalidClaims
	}

	if base.IssuedAt != nil {
		maxAllowed := c.cfg.Now().Add(c.cfg.MaxFutureIAT)
		if base.IssuedAt.Time.After(maxAllowed) {
			return fmt.Errorf("%w: iat too far in the future", ErrInvalidClaims)
		}
	}
	return nil
}

// classify reduces library errors to the three public failure kinds. A token
// of the wrong kind is reported as invalid claims even when it has also
// expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, errIncompleteClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}

// ShouldRefresh reports whether less than buffer remains before exp.
func ShouldRefresh(claims *AccessClaims, now time.Time, buffer time.Duration) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Sub(now) < buffer
}
