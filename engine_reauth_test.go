package goIdentity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReauthenticateWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	ident := env.seed(t, "a@example.com", "p1")

	res := env.engine.Reauthenticate(context.Background(), ident.ID, "nope", "settings", []Operation{OperationPasswordChange})
	assert.Equal(t, KindInvalidCredentials, res.Kind)
	assert.Empty(t, res.ReauthToken)

	res = env.engine.Reauthenticate(context.Background(), "missing", "p1", "settings", []Operation{OperationPasswordChange})
	assert.Equal(t, KindInvalidCredentials, res.Kind)
}

func TestReauthorizationScopedToOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	token := env.reauth(t, ident.ID, "p1", OperationPasswordChange)

	claims, err := env.engine.RequireReauthorization(ctx, ident.ID, token, OperationPasswordChange)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, claims.Subject)

	_, err = env.engine.RequireReauthorization(ctx, ident.ID, token, OperationEmailChange)
	assert.ErrorIs(t, err, ErrOperationNotAllowed)

	_, err = env.engine.RequestEmailChange(ctx, ident.ID, token, "b@example.com")
	assert.ErrorIs(t, err, ErrOperationNotAllowed)
	assert.Equal(t, KindOperationNotAllowed, ErrorResult(err).Kind)
}

func TestReauthorizationRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.seed(t, "a@example.com", "p1")
	bob := env.seed(t, "b@example.com", "p2")
	aliceToken := env.reauth(t, alice.ID, "p1", OperationAccountDeletion)

	cases := []struct {
		name  string
		id    string
		token string
	}{
		{"missing", alice.ID, ""},
		{"garbage", alice.ID, "not.a.token"},
		{"other identity", bob.ID, aliceToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.RequireReauthorization(ctx, tc.id, tc.token, OperationAccountDeletion)
			assert.ErrorIs(t, err, ErrReauthorizationRequired)
			res := ErrorResult(err)
			assert.Equal(t, OutcomeReauthorizationRequired, res.Outcome)
		})
	}

	// bob is untouched
	_, err := env.store.GetIdentityByID(ctx, bob.ID)
	assert.NoError(t, err)
}

func TestReauthorizationExpires(t *testing.T) {
	env := newTestEnv(t)
	ident := env.seed(t, "a@example.com", "p1")
	token := env.reauth(t, ident.ID, "p1", OperationMFAChange)

	env.clock.Advance(6 * time.Minute)
	_, err := env.engine.RequireReauthorization(context.Background(), ident.ID, token, OperationMFAChange)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestReauthorizationRevokedByBump(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	token := env.reauth(t, ident.ID, "p1", OperationMFAChange)

	require.NoError(t, env.engine.LogoutEverywhere(ctx, ident.ID))

	_, err := env.engine.RequireReauthorization(ctx, ident.ID, token, OperationMFAChange)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	login := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, login.OK())

	token := env.reauth(t, ident.ID, "p1", OperationPasswordChange)

	weak := env.engine.ChangePassword(ctx, ident.ID, token, "short")
	assert.Equal(t, KindPasswordPolicy, weak.Kind)

	res := env.engine.ChangePassword(ctx, ident.ID, token, "correct horse battery")
	require.True(t, res.OK(), "change: %v", res.Err)

	_, err := env.engine.VerifyAccess(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	claims, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), claims.SessionVersion)

	// the reauthorization was minted before the bump
	again := env.engine.ChangePassword(ctx, ident.ID, token, "another long passphrase")
	assert.Equal(t, OutcomeReauthorizationRequired, again.Outcome)

	assert.False(t, env.engine.Authenticate(ctx, "a@example.com", "p1").OK())
	assert.True(t, env.engine.Authenticate(ctx, "a@example.com", "correct horse battery").OK())

	msg := env.waitNote(t, "password_changed")
	assert.Equal(t, "a@example.com", msg.Destination)
}

func TestEmailChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	env.seed(t, "taken@example.com", "p2")
	login := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, login.OK())

	token := env.reauth(t, ident.ID, "p1", OperationEmailChange)

	_, err := env.engine.RequestEmailChange(ctx, ident.ID, token, "Taken@Example.com")
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	_, err = env.engine.RequestEmailChange(ctx, ident.ID, token, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	req, err := env.engine.RequestEmailChange(ctx, ident.ID, token, " New@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", req.NewEmail)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), req.ExpiresAt)

	// nothing changes until confirmation
	got, err := env.store.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	msg := env.waitNote(t, "email_change")
	assert.Equal(t, "new@example.com", msg.Destination)

	res := env.engine.ConfirmEmailChange(ctx, msg.Token)
	require.True(t, res.OK(), "confirm: %v", res.Err)

	got, err = env.store.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
	assert.True(t, got.EmailVerified)

	claims, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", claims.Email)
	_, err = env.engine.VerifyAccess(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// single use
	again := env.engine.ConfirmEmailChange(ctx, msg.Token)
	assert.ErrorIs(t, again.Err, ErrEmailChangeNotFound)
	assert.ErrorIs(t, env.engine.ConfirmEmailChange(ctx, "junk").Err, ErrEmailChangeNotFound)
}

func TestEmailChangeLosesRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	token := env.reauth(t, ident.ID, "p1", OperationEmailChange)

	_, err := env.engine.RequestEmailChange(ctx, ident.ID, token, "new@example.com")
	require.NoError(t, err)
	msg := env.waitNote(t, "email_change")

	env.seed(t, "new@example.com", "p2")
	res := env.engine.ConfirmEmailChange(ctx, msg.Token)
	assert.ErrorIs(t, res.Err, ErrEmailAlreadyExists)
}

func TestRequestAccountDeletion(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	login := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, login.OK())

	token := env.reauth(t, ident.ID, "p1", OperationPasswordChange)
	assert.ErrorIs(t, env.engine.RequestAccountDeletion(ctx, ident.ID, token), ErrOperationNotAllowed)

	token = env.reauth(t, ident.ID, "p1", OperationAccountDeletion)
	require.NoError(t, env.engine.RequestAccountDeletion(ctx, ident.ID, token))

	_, err := env.store.GetIdentityByID(ctx, ident.ID)
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	_, err = env.engine.VerifyAccess(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	refresh := env.engine.Refresh(ctx, login.Tokens.RefreshToken)
	assert.False(t, refresh.OK())

	assert.Equal(t, KindInvalidCredentials, env.engine.Authenticate(ctx, "a@example.com", "p1").Kind)

	msg := env.waitNote(t, "account_deleted")
	assert.Equal(t, ident.ID, msg.IdentityID)
}
