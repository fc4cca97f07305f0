package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptRoundTrip(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := h.Hash("p1")
	if err != nil {
		t.Fatal(err)
	}
	if !h.Recognizes(hash) {
		t.Fatalf("bcrypt should recognize %q", hash)
	}

	ok, err := h.Verify("p1", hash)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("p2", hash)
	if err != nil || ok {
		t.Fatalf("mismatch: ok=%v err=%v", ok, err)
	}
}

func TestBcryptLimits(t *testing.T) {
	if _, err := NewBcrypt(64); err == nil {
		t.Fatal("cost above max must be rejected")
	}
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Hash(strings.Repeat("x", 73)); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestBcryptNeedsRehashOnCostIncrease(t *testing.T) {
	low, _ := NewBcrypt(bcrypt.MinCost)
	high, _ := NewBcrypt(bcrypt.MinCost + 1)
	hash, err := low.Hash("password")
	if err != nil {
		t.Fatal(err)
	}
	if low.NeedsRehash(hash) {
		t.Fatal("same cost should not need rehash")
	}
	if !high.NeedsRehash(hash) {
		t.Fatal("higher cost should need rehash")
	}
}

func TestMigratingVerifiesLegacyAndRehashes(t *testing.T) {
	legacy, _ := NewBcrypt(bcrypt.MinCost)
	primary, err := NewArgon2(lightConfig())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewMigrating(primary, legacy)
	if err != nil {
		t.Fatal(err)
	}

	old, err := legacy.Hash("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.Verify("hunter2", old)
	if err != nil || !ok {
		t.Fatalf("legacy verify: ok=%v err=%v", ok, err)
	}
	if !m.NeedsRehash(old) {
		t.Fatal("legacy hash should be migrated")
	}

	fresh, err := m.Hash("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if m.NeedsRehash(fresh) {
		t.Fatal("primary hash should be current")
	}

	if _, err := m.Verify("hunter2", "plaintext"); err != ErrUnknownFormat {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
