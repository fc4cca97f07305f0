// Package storetest holds the behaviour every goIdentity.IdentityStore
// implementation is expected to share. Drivers call Run from their own tests.
package storetest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/mfa"
)

// Opener returns an empty store. It is called once per subtest.
type Opener func(t *testing.T) goIdentity.IdentityStore

// Run exercises open against the IdentityStore contract.
func Run(t *testing.T, open Opener) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, open(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("Updates", func(t *testing.T) { testUpdates(t, open(t)) })
	t.Run("SessionVersionMonotonic", func(t *testing.T) { testSessionVersion(t, open(t)) })
	t.Run("Enrollment", func(t *testing.T) { testEnrollment(t, open(t)) })
	t.Run("BackupCodes", func(t *testing.T) { testBackupCodes(t, open(t)) })
	t.Run("BackupCodeConsumedOnce", func(t *testing.T) { testBackupCodeRace(t, open(t)) })
	t.Run("ProviderLinks", func(t *testing.T) { testProviderLinks(t, open(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, open(t)) })
}

func create(t *testing.T, s goIdentity.IdentityStore, email string) goIdentity.Identity {
	t.Helper()
	ident, err := s.CreateIdentity(context.Background(), goIdentity.NewIdentity{
		Email:        email,
		PasswordHash: "$argon2id$stub",
	})
	require.NoError(t, err)
	return ident
}

func codeHash(i int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("code-%d", i)))
}

func testCreateAndLookup(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")
	assert.NotEmpty(t, ident.ID)
	assert.Zero(t, ident.SessionVersion)
	assert.False(t, ident.CreatedAt.IsZero())

	byID, err := s.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", byID.Email)
	assert.Equal(t, "$argon2id$stub", byID.PasswordHash)

	byEmail, err := s.GetIdentityByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, byEmail.ID)

	other := create(t, s, "b@example.com")
	assert.NotEqual(t, ident.ID, other.ID)

	oauthOnly, err := s.CreateIdentity(ctx, goIdentity.NewIdentity{Email: "c@example.com", EmailVerified: true})
	require.NoError(t, err)
	got, err := s.GetIdentityByID(ctx, oauthOnly.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PasswordHash)
	assert.True(t, got.EmailVerified)
}

func testDuplicateEmail(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	create(t, s, "a@example.com")
	b := create(t, s, "b@example.com")

	_, err := s.CreateIdentity(ctx, goIdentity.NewIdentity{Email: "a@example.com"})
	assert.ErrorIs(t, err, goIdentity.ErrEmailAlreadyExists)

	err = s.UpdateEmail(ctx, b.ID, "a@example.com", true)
	assert.ErrorIs(t, err, goIdentity.ErrEmailAlreadyExists)
}

func testNotFound(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	_, err := s.GetIdentityByID(ctx, "missing")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)
	_, err = s.GetIdentityByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "missing", "h"), goIdentity.ErrIdentityNotFound)
	assert.ErrorIs(t, s.UpdateSessionVersion(ctx, "missing", 3), goIdentity.ErrIdentityNotFound)
	assert.ErrorIs(t, s.DeleteIdentity(ctx, "missing"), goIdentity.ErrIdentityNotFound)
	_, err = s.GetMFAEnrollment(ctx, "missing")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)
	_, err = s.FindIdentityByProvider(ctx, "acme", "nobody")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)
}

func testUpdates(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")

	require.NoError(t, s.UpdatePasswordHash(ctx, ident.ID, "new-hash"))
	require.NoError(t, s.UpdateEmail(ctx, ident.ID, "z@example.com", true))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordLogin(ctx, ident.ID, at))

	got, err := s.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Equal(t, "z@example.com", got.Email)
	assert.True(t, got.EmailVerified)
	assert.True(t, at.Equal(got.LastLoginAt), "last login %v", got.LastLoginAt)

	_, err = s.GetIdentityByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)
}

func testSessionVersion(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")

	require.NoError(t, s.UpdateSessionVersion(ctx, ident.ID, 5))
	require.NoError(t, s.UpdateSessionVersion(ctx, ident.ID, 2))
	require.NoError(t, s.UpdateSessionVersion(ctx, ident.ID, 5))

	got, err := s.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.SessionVersion)
}

func testEnrollment(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")

	enr, err := s.GetMFAEnrollment(ctx, ident.ID)
	require.NoError(t, err)
	assert.False(t, enr.Enabled())

	require.NoError(t, s.SaveTOTPSecret(ctx, ident.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, s.SaveMFADestination(ctx, ident.ID, mfa.MethodSMS, "+15551234567"))
	require.NoError(t, s.SaveMFADestination(ctx, ident.ID, mfa.MethodEmail, "a@example.com"))
	assert.Error(t, s.SaveMFADestination(ctx, ident.ID, mfa.MethodTOTP, "x"))

	enr, err = s.GetMFAEnrollment(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", enr.TOTPSecret)
	assert.Equal(t, "+15551234567", enr.Phone)
	assert.Equal(t, "a@example.com", enr.Email)
	assert.Equal(t, []mfa.Method{mfa.MethodTOTP, mfa.MethodSMS, mfa.MethodEmail}, enr.Methods())

	require.NoError(t, s.ReplaceBackupCodes(ctx, ident.ID, [][32]byte{codeHash(1)}))
	require.NoError(t, s.DisableMFA(ctx, ident.ID))
	enr, err = s.GetMFAEnrollment(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, mfa.Enrollment{}, enr)
}

func testBackupCodes(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")

	first := [][32]byte{codeHash(1), codeHash(2), codeHash(3)}
	require.NoError(t, s.ReplaceBackupCodes(ctx, ident.ID, first))

	remaining, ok, err := s.ConsumeBackupCode(ctx, ident.ID, codeHash(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, remaining)

	remaining, ok, err = s.ConsumeBackupCode(ctx, ident.ID, codeHash(2))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, remaining)

	require.NoError(t, s.ReplaceBackupCodes(ctx, ident.ID, [][32]byte{codeHash(9)}))
	_, ok, err = s.ConsumeBackupCode(ctx, ident.ID, codeHash(1))
	require.NoError(t, err)
	assert.False(t, ok, "replaced codes stop working")

	enr, err := s.GetMFAEnrollment(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, enr.BackupCodesRemaining)
}

func testBackupCodeRace(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")
	require.NoError(t, s.ReplaceBackupCodes(ctx, ident.ID, [][32]byte{codeHash(1)}))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ConsumeBackupCode(ctx, ident.ID, codeHash(1))
			if err == nil && ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func testProviderLinks(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	a := create(t, s, "a@example.com")
	b := create(t, s, "b@example.com")

	require.NoError(t, s.LinkProvider(ctx, a.ID, "acme", "sub-1"))
	require.NoError(t, s.LinkProvider(ctx, a.ID, "acme", "sub-1"))
	assert.ErrorIs(t, s.LinkProvider(ctx, b.ID, "acme", "sub-1"), goIdentity.ErrEmailAlreadyExists)
	require.NoError(t, s.LinkProvider(ctx, b.ID, "other", "sub-1"))

	id, err := s.FindIdentityByProvider(ctx, "acme", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
	id, err = s.FindIdentityByProvider(ctx, "other", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func testDeleteCascades(t *testing.T, s goIdentity.IdentityStore) {
	ctx := context.Background()
	ident := create(t, s, "a@example.com")
	require.NoError(t, s.LinkProvider(ctx, ident.ID, "acme", "sub-1"))
	require.NoError(t, s.ReplaceBackupCodes(ctx, ident.ID, [][32]byte{codeHash(1)}))
	require.NoError(t, s.SaveTOTPSecret(ctx, ident.ID, "JBSWY3DPEHPK3PXP"))

	require.NoError(t, s.DeleteIdentity(ctx, ident.ID))

	_, err := s.FindIdentityByProvider(ctx, "acme", "sub-1")
	assert.ErrorIs(t, err, goIdentity.ErrIdentityNotFound)

	again := create(t, s, "a@example.com")
	enr, err := s.GetMFAEnrollment(ctx, again.ID)
	require.NoError(t, err)
	assert.False(t, enr.Enabled())
}
