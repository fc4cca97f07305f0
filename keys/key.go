package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names a supported JWS algorithm.
type Algorithm string

const (
	AlgEdDSA Algorithm = "EdDSA"
	AlgES256 Algorithm = "ES256"
	AlgHS256 Algorithm = "HS256"
)

// MinHMACSecret is the shortest accepted HS256 secret in bytes.
const MinHMACSecret = 32

var (
	ErrUnknownKey       = errors.New("keys: unknown key id")
	ErrNoSigningKey     = errors.New("keys: no signing key")
	ErrUnsupportedKey   = errors.New("keys: unsupported key type")
	ErrInvalidKeyID     = errors.New("keys: invalid key id")
	ErrRetireCurrentKey = errors.New("keys: cannot retire the current signing key")
)

// Key is one key of a ring. Verification-only keys have no private half.
type Key struct {
	ID        string
	Algorithm Algorithm

	private any
	public  any
}

// Method returns the jwt signing method for the key's algorithm.
func (k Key) Method() jwt.SigningMethod {
	switch k.Algorithm {
	case AlgES256:
		return jwt.SigningMethodES256
	case AlgHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (k Key) CanSign() bool { return k.private != nil }

// SignKey returns the value jwt expects for signing, or nil.
func (k Key) SignKey() any { return k.private }

// VerifyKey returns the value jwt expects for verification.
func (k Key) VerifyKey() any { return k.public }

// Public returns a verification-only copy of k.
func (k Key) Public() Key {
	if k.Algorithm == AlgHS256 {
		return k
	}
	return Key{ID: k.ID, Algorithm: k.Algorithm, public: k.public}
}

func validKID(kid string) bool {
	if kid == "" || len(kid) > 64 {
		return false
	}
	return !strings.ContainsAny(kid, " \t\r\n/\\")
}

// NewHMAC builds an HS256 key. HS256 keys sign and verify with the same secret.
func NewHMAC(kid string, secret []byte) (Key, error) {
	if !validKID(kid) {
		return Key{}, ErrInvalidKeyID
	}
	if len(secret) < MinHMACSecret {
		return Key{}, fmt.Errorf("keys: hs256 secret must be at least %d bytes", MinHMACSecret)
	}
	s := append([]byte(nil), secret...)
	return Key{ID: kid, Algorithm: AlgHS256, private: s, public: s}, nil
}

// FromSigner wraps an in-memory Ed25519 or P-256 private key.
func FromSigner(kid string, signer crypto.Signer) (Key, error) {
	if !validKID(kid) {
		return Key{}, ErrInvalidKeyID
	}
	switch priv := signer.(type) {
	case ed25519.PrivateKey:
		return Key{ID: kid, Algorithm: AlgEdDSA, private: priv, public: priv.Public()}, nil
	case *ecdsa.PrivateKey:
		if priv.Curve != elliptic.P256() {
			return Key{}, ErrUnsupportedKey
		}
		return Key{ID: kid, Algorithm: AlgES256, private: priv, public: &priv.PublicKey}, nil
	default:
		return Key{}, ErrUnsupportedKey
	}
}

// ParsePrivatePEM reads an Ed25519 or P-256 private key in PEM form.
func ParsePrivatePEM(kid string, data []byte) (Key, error) {
	if ed, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		signer, ok := ed.(ed25519.PrivateKey)
		if !ok {
			return Key{}, ErrUnsupportedKey
		}
		return FromSigner(kid, signer)
	}
	ec, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return FromSigner(kid, ec)
}

// ParsePublicPEM reads an Ed25519 or P-256 public key in PEM form.
func ParsePublicPEM(kid string, data []byte) (Key, error) {
	if !validKID(kid) {
		return Key{}, ErrInvalidKeyID
	}
	if ed, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		pub, ok := ed.(ed25519.PublicKey)
		if !ok {
			return Key{}, ErrUnsupportedKey
		}
		return Key{ID: kid, Algorithm: AlgEdDSA, public: pub}, nil
	}
	ec, err := jwt.ParseECPublicKeyFromPEM(data)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	if ec.Curve != elliptic.P256() {
		return Key{}, ErrUnsupportedKey
	}
	return Key{ID: kid, Algorithm: AlgES256, public: ec}, nil
}

// Generate creates a new asymmetric key and returns it along with its PKCS#8
// private and PKIX public PEM encodings.
func Generate(alg Algorithm, kid string) (Key, []byte, []byte, error) {
	var signer crypto.Signer
	switch alg {
	case AlgEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return Key{}, nil, nil, err
		}
		signer = priv
	case AlgES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return Key{}, nil, nil, err
		}
		signer = priv
	default:
		return Key{}, nil, nil, ErrUnsupportedKey
	}

	key, err := FromSigner(kid, signer)
	if err != nil {
		return Key{}, nil, nil, err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return Key{}, nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return Key{}, nil, nil, err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, privPEM, pubPEM, nil
}
