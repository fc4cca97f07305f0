package mfa

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
)

// ErrReplayed is returned when a TOTP step was already used.
var ErrReplayed = errors.New("totp code already used")

// Attempt is what a Verifier gets to look at.
type Attempt struct {
	IdentityID string
	Code       string
	Enrollment Enrollment
	Now        time.Time

	// DeliveredHash is the hash stored on the challenge for SMS and email.
	DeliveredHash [32]byte
	HasDelivered  bool
}

// Result is a verifier's answer. OK false with a nil error is a wrong code.
type Result struct {
	OK                   bool
	BackupCodesRemaining int
}

type Verifier interface {
	Verify(ctx context.Context, a Attempt) (Result, error)
}

type ReplayGuard interface {
	MarkUsed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// BackupCodeConsumer deletes one unused backup code matching hash and
// reports how many remain. Implementations must be atomic.
type BackupCodeConsumer interface {
	ConsumeBackupCode(ctx context.Context, identityID string, hash [32]byte) (remaining int, consumed bool, err error)
}

type TOTPVerifier struct {
	TOTP   *TOTP
	Replay ReplayGuard
}

func (v TOTPVerifier) Verify(ctx context.Context, a Attempt) (Result, error) {
	if a.Enrollment.TOTPSecret == "" {
		return Result{}, nil
	}
	step, ok, err := v.TOTP.Match(a.Enrollment.TOTPSecret, a.Code, a.Now)
	if err != nil || !ok {
		return Result{}, err
	}
	if v.Replay != nil {
		first, err := v.Replay.MarkUsed(ctx, "totp:"+a.IdentityID+":"+strconv.FormatInt(step, 10), v.TOTP.ReplayWindow())
		if err != nil {
			return Result{}, err
		}
		if !first {
			return Result{}, ErrReplayed
		}
	}
	return Result{OK: true}, nil
}

// DeliveredCodeVerifier checks SMS and email codes.
type DeliveredCodeVerifier struct{}

func (DeliveredCodeVerifier) Verify(_ context.Context, a Attempt) (Result, error) {
	if !a.HasDelivered {
		return Result{}, nil
	}
	return Result{OK: internal.EqualHash(internal.HashCode(a.Code), a.DeliveredHash)}, nil
}

type BackupCodeVerifier struct {
	Store BackupCodeConsumer
}

func (v BackupCodeVerifier) Verify(ctx context.Context, a Attempt) (Result, error) {
	if internal.NormalizeBackupCode(a.Code) == "" {
		return Result{}, nil
	}
	remaining, ok, err := v.Store.ConsumeBackupCode(ctx, a.IdentityID, internal.HashBackupCode(a.Code))
	if err != nil {
		return Result{}, err
	}
	return Result{OK: ok, BackupCodesRemaining: remaining}, nil
}

// BackupCodeSet is a freshly generated batch: plaintext for the user once,
// hashes for storage.
type BackupCodeSet struct {
	Codes  []string
	Hashes [][32]byte
}

func GenerateBackupCodes(count, length int) (BackupCodeSet, error) {
	if count <= 0 {
		return BackupCodeSet{}, errors.New("backup code count must be positive")
	}
	set := BackupCodeSet{Codes: make([]string, 0, count), Hashes: make([][32]byte, 0, count)}
	seen := make(map[[32]byte]bool, count)
	for len(set.Codes) < count {
		code, err := internal.NewBackupCode(length)
		if err != nil {
			return BackupCodeSet{}, err
		}
		h := internal.HashBackupCode(code)
		if seen[h] {
			continue
		}
		seen[h] = true
		set.Codes = append(set.Codes, code)
		set.Hashes = append(set.Hashes, h)
	}
	return set, nil
}
