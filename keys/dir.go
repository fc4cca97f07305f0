package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	privateSuffix = ".key.pem"
	publicSuffix  = ".pub.pem"
)

// DirSet is the content of a key directory.
type DirSet struct {
	Signing Key
	Verify  []Key
}

// LoadDir reads "<kid>.key.pem" private keys and "<kid>.pub.pem" public keys
// from dir. currentKID selects the signing key; when empty the directory must
// hold exactly one private key.
func LoadDir(dir, currentKID string) (DirSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return DirSet{}, err
	}

	private := make(map[string]Key)
	public := make(map[string]Key)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var (
			kid  string
			priv bool
		)
		switch {
		case strings.HasSuffix(name, privateSuffix):
			kid, priv = strings.TrimSuffix(name, privateSuffix), true
		case strings.HasSuffix(name, publicSuffix):
			kid = strings.TrimSuffix(name, publicSuffix)
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return DirSet{}, err
		}
		if priv {
			k, err := ParsePrivatePEM(kid, data)
			if err != nil {
				return DirSet{}, fmt.Errorf("%s: %w", name, err)
			}
			private[kid] = k
			continue
		}
		k, err := ParsePublicPEM(kid, data)
		if err != nil {
			return DirSet{}, fmt.Errorf("%s: %w", name, err)
		}
		public[kid] = k
	}

	if currentKID == "" {
		if len(private) != 1 {
			return DirSet{}, fmt.Errorf("keys: %d private keys in %s and no current kid configured", len(private), dir)
		}
		for kid := range private {
			currentKID = kid
		}
	}

	signing, ok := private[currentKID]
	if !ok {
		return DirSet{}, fmt.Errorf("%w: %q has no private key in %s", ErrNoSigningKey, currentKID, dir)
	}

	set := DirSet{Signing: signing}
	seen := map[string]bool{currentKID: true}
	for kid, k := range private {
		if !seen[kid] {
			set.Verify = append(set.Verify, k.Public())
			seen[kid] = true
		}
	}
	for kid, k := range public {
		if !seen[kid] {
			set.Verify = append(set.Verify, k)
			seen[kid] = true
		}
	}
	sort.Slice(set.Verify, func(i, j int) bool { return set.Verify[i].ID < set.Verify[j].ID })
	return set, nil
}

// WriteKeyPair stores a generated key pair in dir using the LoadDir layout.
func WriteKeyPair(dir, kid string, privPEM, pubPEM []byte) error {
	if !validKID(kid) {
		return ErrInvalidKeyID
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, kid+privateSuffix), privPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, kid+publicSuffix), pubPEM, 0o644)
}
