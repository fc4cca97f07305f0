package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/mfa"
)

// buildFlows binds the flow runners to this engine's stores and policies.
func (e *Engine) buildFlows() flows.Service {
	issue := flows.IssueFunc(e.issueTokens)

	return flows.New(flows.Deps{
		Authenticate: flows.AuthenticateDeps{
			Now:                 e.now,
			ClientIPFromContext: ClientIPFromContext,
			AttemptLogin: func(ctx context.Context, email, ip string) error {
				if err := e.attempt(ctx, e.limits.login, email); err != nil {
					return err
				}
				if e.limits.perIP {
					return e.attempt(ctx, e.limits.loginIP, ip)
				}
				return nil
			},
			RecordFailure: func(ctx context.Context, email, ip string) error {
				err := e.recordFailure(ctx, e.limits.login, email)
				if e.limits.perIP {
					err = errors.Join(err, e.recordFailure(ctx, e.limits.loginIP, ip))
				}
				return err
			},
			// The IP log is never reset by a success, or one valid account
			// would clear the failures an address racked up on others.
			RecordSuccess: func(ctx context.Context, email, _ string) error {
				return e.recordSuccess(ctx, e.limits.login, email)
			},
			GetIdentityByEmail: e.getRecordByEmail,
			IsNotFound:         isNotFound,
			VerifyPassword:     e.verifyPassword,
			DummyVerify:        e.dummyVerify,
			NeedsRehash: func(hash string) bool {
				return e.config.Password.RehashOnLogin && e.hasher.NeedsRehash(hash)
			},
			Rehash: func(ctx context.Context, identityID, password string) error {
				hash, err := e.hasher.Hash(password)
				if err != nil {
					return err
				}
				return e.store.UpdatePasswordHash(ctx, identityID, hash)
			},
			MFAMethods: func(ctx context.Context, identityID string) ([]string, error) {
				enr, err := e.store.GetMFAEnrollment(ctx, identityID)
				if err != nil {
					return nil, err
				}
				return mfa.MethodStrings(enr.Methods()), nil
			},
			CreateChallenge: e.createChallenge,
			IssueTokens:     issue,
			RecordLogin:     e.store.RecordLogin,
			Warn:            e.warn,
		},
		Challenge: flows.ChallengeDeps{
			Now:                    e.now,
			GetChallenge:           e.challenges.Get,
			RecordChallengeFailure: e.challenges.RecordFailure,
			ConsumeChallenge:       e.challenges.Consume,
			AttemptMFA: func(ctx context.Context, identityID string) error {
				return e.attempt(ctx, e.limits.mfa, identityID)
			},
			RecordMFAFailure: func(ctx context.Context, identityID string) error {
				return e.recordFailure(ctx, e.limits.mfa, identityID)
			},
			RecordMFASuccess: func(ctx context.Context, identityID string) error {
				return e.recordSuccess(ctx, e.limits.mfa, identityID)
			},
			GetEnrollment: e.store.GetMFAEnrollment,
			Verifier: func(method mfa.Method) (mfa.Verifier, bool) {
				v, ok := e.verifiers[method]
				return v, ok
			},
			GetIdentity: e.getRecord,
			IsNotFound:  isNotFound,
			IssueTokens: issue,
			Warn:        e.warn,
		},
		Refresh: flows.RefreshDeps{
			ParseRefresh: e.codec.ParseRefresh,
			AttemptRefresh: func(ctx context.Context, identityID string) error {
				return e.attempt(ctx, e.limits.refresh, identityID)
			},
			CurrentVersion: e.versions.Current,
			GetIdentity:    e.getRecord,
			IsNotFound:     isNotFound,
			IssueTokens:    issue,
		},
		Verify: flows.VerifyDeps{
			Now:            e.now,
			ParseAccess:    e.codec.ParseAccess,
			CurrentVersion: e.versions.Current,
			IsNotFound:     isNotFound,
		},
		OAuth: flows.OAuthDeps{
			Now:                e.now,
			TakeState:          e.states.Take,
			Provider:           e.providers.Get,
			FindByProvider:     e.store.FindIdentityByProvider,
			GetIdentity:        e.getRecord,
			GetIdentityByEmail: e.getRecordByEmail,
			CreateIdentity: func(ctx context.Context, email string, verified bool) (flows.IdentityRecord, error) {
				ident, err := e.store.CreateIdentity(ctx, NewIdentity{
					Email:         normalizeEmail(email),
					EmailVerified: verified,
				})
				if err != nil {
					return flows.IdentityRecord{}, err
				}
				e.metricInc(MetricIdentityCreated)
				return record(ident), nil
			},
			LinkProvider:          e.store.LinkProvider,
			IsNotFound:            isNotFound,
			AutoLinkVerifiedEmail: e.config.OAuth.AutoLinkVerifiedEmail,
			IssueTokens:           issue,
		},
	})
}

// verifyPassword treats a missing hash, as on provider-only identities, as a
// mismatch after spending the usual hashing time.
func (e *Engine) verifyPassword(password, hash string) (bool, error) {
	if hash == "" {
		e.dummyVerify(password)
		return false, nil
	}
	return e.hasher.Verify(password, hash)
}

func (e *Engine) dummyVerify(password string) {
	_, _ = e.hasher.Verify(password, e.dummyHash)
}
