package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	ErrUnknownFormat   = errors.New("unrecognized password hash format")
)

// Hasher hashes and verifies passwords. Verify returns (false, nil) on a
// mismatch and an error only for unusable hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// formatHasher is a Hasher that can tell its own output apart.
type formatHasher interface {
	Hasher
	Recognizes(encodedHash string) bool
}

// Bcrypt is the default hasher.
type Bcrypt struct {
	cost int
}

func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

func (b *Bcrypt) NeedsRehash(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	return err != nil || cost < b.cost
}

func (b *Bcrypt) Recognizes(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// Migrating hashes with primary and still verifies hashes produced by the
// legacy hashers. Anything not produced by primary reports NeedsRehash, so
// stored hashes move to primary on the next successful login.
type Migrating struct {
	primary formatHasher
	legacy  []formatHasher
}

func NewMigrating(primary Hasher, legacy ...Hasher) (*Migrating, error) {
	p, ok := primary.(formatHasher)
	if !ok {
		return nil, errors.New("primary hasher cannot identify its own hashes")
	}
	m := &Migrating{primary: p}
	for _, h := range legacy {
		fh, ok := h.(formatHasher)
		if !ok {
			return nil, errors.New("legacy hasher cannot identify its own hashes")
		}
		m.legacy = append(m.legacy, fh)
	}
	return m, nil
}

func (m *Migrating) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Migrating) Verify(password, encodedHash string) (bool, error) {
	if m.primary.Recognizes(encodedHash) {
		return m.primary.Verify(password, encodedHash)
	}
	for _, h := range m.legacy {
		if h.Recognizes(encodedHash) {
			return h.Verify(password, encodedHash)
		}
	}
	return false, ErrUnknownFormat
}

func (m *Migrating) NeedsRehash(encodedHash string) bool {
	if !m.primary.Recognizes(encodedHash) {
		return true
	}
	return m.primary.NeedsRehash(encodedHash)
}
