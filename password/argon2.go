package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Lower bounds enforced on configuration and on parsed hashes, so a stored
// hash cannot downgrade verification below what NewArgon2 would accept.
const (
	minMemoryKB    = 8 * 1024
	minTimeCost    = 1
	minParallelism = 1
	minSaltLength  = 16
	minKeyLength   = 16
)

const argon2Prefix = "$argon2id$"

// ErrMalformedHash is returned by Verify for strings that are not argon2id
// PHC hashes this package can check.
var ErrMalformedHash = errors.New("malformed argon2id hash")

// PHC strings carry unpadded standard base64, like the reference encoder.
var phcEncoding = base64.RawStdEncoding

// Argon2Config holds argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config follows the OWASP argon2id baseline.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case c.Time < minTimeCost:
		return fmt.Errorf("argon2 time must be >= %d", minTimeCost)
	case c.Parallelism < minParallelism:
		return fmt.Errorf("argon2 parallelism must be >= %d", minParallelism)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes passwords with argon2id and encodes them in PHC format.
type Argon2 struct {
	cfg Argon2Config
}

func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2 salt: %w", err)
	}
	digest := argon2.IDKey([]byte(password), salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength)
	return phc{
		memory:  a.cfg.Memory,
		time:    a.cfg.Time,
		threads: a.cfg.Parallelism,
		salt:    salt,
		digest:  digest,
	}.String(), nil
}

// Verify compares in constant time. A hash in another format is an error,
// not a mismatch.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	digest := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.digest)))
	return subtle.ConstantTimeCompare(digest, p.digest) == 1, nil
}

// NeedsRehash is true when encodedHash is not argon2id or was produced with
// weaker parameters than the current configuration.
func (a *Argon2) NeedsRehash(encodedHash string) bool {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return p.memory < a.cfg.Memory ||
		p.time < a.cfg.Time ||
		p.threads < a.cfg.Parallelism ||
		uint32(len(p.digest)) != a.cfg.KeyLength
}

func (a *Argon2) Recognizes(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, argon2Prefix)
}

type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	digest  []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, p.memory, p.time, p.threads,
		phcEncoding.EncodeToString(p.salt), phcEncoding.EncodeToString(p.digest))
}

func parsePHC(s string) (phc, error) {
	if !strings.HasPrefix(s, argon2Prefix) {
		return phc{}, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	// v=19 $ m=..,t=..,p=.. $ salt $ digest
	fields := strings.Split(strings.TrimPrefix(s, argon2Prefix), "$")
	if len(fields) != 4 {
		return phc{}, fmt.Errorf("%w: expected 4 sections, got %d", ErrMalformedHash, len(fields))
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return phc{}, fmt.Errorf("%w: version: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return phc{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	var p phc
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return phc{}, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.threads < minParallelism {
		return phc{}, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}

	var err error
	if p.salt, err = decodePHC(fields[2]); err != nil || len(p.salt) < minSaltLength {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.digest, err = decodePHC(fields[3]); err != nil || len(p.digest) < minKeyLength {
		return phc{}, fmt.Errorf("%w: digest", ErrMalformedHash)
	}
	return p, nil
}

// decodePHC also takes padded input, which some encoders emit.
func decodePHC(s string) ([]byte, error) {
	return phcEncoding.DecodeString(strings.TrimRight(s, "="))
}
