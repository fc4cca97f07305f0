package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/oauth"
)

// OAuthFailureKind classifies callback failures.
type OAuthFailureKind int

const (
	OAuthFailureNone OAuthFailureKind = iota
	OAuthFailureStateMismatch
	OAuthFailureStateExpired
	OAuthFailureProviderUnknown
	OAuthFailureExchange
	OAuthFailureConflict
	OAuthFailureUnavailable
	OAuthFailureIssue
)

// OAuthCallback is the parsed provider redirect. IdentityID is set when an
// authenticated identity links a provider instead of signing in.
type OAuthCallback struct {
	Provider    string
	Code        string
	State       string
	RedirectURI string
	IdentityID  string
}

type OAuthResult struct {
	Failure    OAuthFailureKind
	Err        error
	Provider   string
	Subject    string
	IdentityID string
	Created    bool
	Linked     bool
	Tokens     TokenPair
}

type OAuthDeps struct {
	Now       func() time.Time
	TakeState func(ctx context.Context, state string) (*stores.OAuthState, error)
	Provider  func(name string) (oauth.Provider, error)

	FindByProvider     func(ctx context.Context, provider, subject string) (string, error)
	GetIdentity        func(ctx context.Context, identityID string) (IdentityRecord, error)
	GetIdentityByEmail func(ctx context.Context, email string) (IdentityRecord, error)
	CreateIdentity     func(ctx context.Context, email string, verified bool) (IdentityRecord, error)
	LinkProvider       func(ctx context.Context, identityID, provider, subject string) error
	IsNotFound         func(error) bool

	// AutoLinkVerifiedEmail links a provider account to an existing identity
	// with the same email when the provider vouches for that email.
	AutoLinkVerifiedEmail bool

	IssueTokens IssueFunc
}

var (
	errProviderLinkedElsewhere = errors.New("provider account is linked to another identity")
	errUnverifiedEmailInUse    = errors.New("email belongs to an existing identity and is not verified by the provider")
	errNoEmail                 = errors.New("provider returned no email")
	errNoSubject               = errors.New("provider returned no subject")
)

// RunOAuthCallback consumes the state before anything else, so a state value
// works at most once whatever happens afterwards.
func RunOAuthCallback(ctx context.Context, in OAuthCallback, deps OAuthDeps) OAuthResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	res := OAuthResult{Provider: strings.ToLower(in.Provider)}

	st, err := deps.TakeState(ctx, in.State)
	if err != nil {
		res.Err = err
		res.Failure = OAuthFailureUnavailable
		if errors.Is(err, stores.ErrStateNotFound) {
			res.Failure = OAuthFailureStateMismatch
		}
		return res
	}
	if !deps.Now().Before(st.ExpiresAt) {
		res.Failure = OAuthFailureStateExpired
		return res
	}
	if !strings.EqualFold(st.Provider, in.Provider) || st.RedirectURI != in.RedirectURI || st.IdentityID != in.IdentityID {
		res.Failure = OAuthFailureStateMismatch
		return res
	}

	p, err := deps.Provider(st.Provider)
	if err != nil {
		res.Failure, res.Err = OAuthFailureProviderUnknown, err
		return res
	}
	res.Provider = p.Name()

	tok, err := p.ExchangeCode(ctx, in.Code, in.RedirectURI, oauth2.VerifierOption(st.CodeVerifier))
	if err != nil {
		res.Failure, res.Err = OAuthFailureExchange, err
		return res
	}
	info, err := p.UserInfo(ctx, tok)
	if err != nil {
		res.Failure, res.Err = OAuthFailureExchange, err
		return res
	}
	if info.Subject == "" {
		res.Failure, res.Err = OAuthFailureExchange, errNoSubject
		return res
	}
	res.Subject = info.Subject

	rec, kind, err := resolveIdentity(ctx, &res, info, in.IdentityID, deps)
	if kind != OAuthFailureNone {
		res.Failure, res.Err = kind, err
		return res
	}
	res.IdentityID = rec.ID

	if in.IdentityID != "" {
		return res
	}
	tokens, err := deps.IssueTokens(ctx, rec.ID, rec.Email)
	if err != nil {
		res.Failure, res.Err = OAuthFailureIssue, err
		return res
	}
	res.Tokens = tokens
	return res
}

func resolveIdentity(ctx context.Context, res *OAuthResult, info oauth.UserInfo, linkTo string, deps OAuthDeps) (IdentityRecord, OAuthFailureKind, error) {
	linkedID, err := deps.FindByProvider(ctx, res.Provider, info.Subject)
	switch {
	case err == nil:
		if linkTo != "" && linkedID != linkTo {
			return IdentityRecord{}, OAuthFailureConflict, errProviderLinkedElsewhere
		}
		rec, err := deps.GetIdentity(ctx, linkedID)
		if err != nil {
			return IdentityRecord{}, OAuthFailureUnavailable, err
		}
		return rec, OAuthFailureNone, nil
	case !deps.IsNotFound(err):
		return IdentityRecord{}, OAuthFailureUnavailable, err
	}

	if linkTo != "" {
		rec, err := deps.GetIdentity(ctx, linkTo)
		if err != nil {
			return IdentityRecord{}, OAuthFailureUnavailable, err
		}
		return link(ctx, res, rec, deps)
	}

	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		return IdentityRecord{}, OAuthFailureExchange, errNoEmail
	}
	rec, err := deps.GetIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		if !info.EmailVerified || !deps.AutoLinkVerifiedEmail {
			return IdentityRecord{}, OAuthFailureConflict, errUnverifiedEmailInUse
		}
		return link(ctx, res, rec, deps)
	case !deps.IsNotFound(err):
		return IdentityRecord{}, OAuthFailureUnavailable, err
	}

	rec, err = deps.CreateIdentity(ctx, email, info.EmailVerified)
	if err != nil {
		return IdentityRecord{}, OAuthFailureUnavailable, err
	}
	res.Created = true
	return link(ctx, res, rec, deps)
}

func link(ctx context.Context, res *OAuthResult, rec IdentityRecord, deps OAuthDeps) (IdentityRecord, OAuthFailureKind, error) {
	if err := deps.LinkProvider(ctx, rec.ID, res.Provider, res.Subject); err != nil {
		return IdentityRecord{}, OAuthFailureUnavailable, err
	}
	res.Linked = true
	return rec, OAuthFailureNone, nil
}
