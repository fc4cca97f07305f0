package keys

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Source resolves keys for the token codec.
type Source interface {
	SigningKey() (Key, error)
	VerificationKey(kid string) (Key, error)
}

type snapshot struct {
	current string
	keys    map[string]Key
}

// Ring is a concurrency-safe Source. Reads are lock-free; writers serialize
// on a mutex and publish a new snapshot.
type Ring struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRing builds a ring whose current signing key is signing. Additional keys
// are accepted for verification only.
func NewRing(signing Key, verifyOnly ...Key) (*Ring, error) {
	r := &Ring{}
	if err := r.Replace(signing, verifyOnly...); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the whole key set atomically.
func (r *Ring) Replace(signing Key, verifyOnly ...Key) error {
	if !signing.CanSign() {
		return ErrNoSigningKey
	}
	if !validKID(signing.ID) {
		return ErrInvalidKeyID
	}

	next := &snapshot{current: signing.ID, keys: make(map[string]Key, len(verifyOnly)+1)}
	for _, k := range verifyOnly {
		if !validKID(k.ID) {
			return ErrInvalidKeyID
		}
		next.keys[k.ID] = k.Public()
	}
	next.keys[signing.ID] = signing

	r.mu.Lock()
	r.snap.Store(next)
	r.mu.Unlock()
	return nil
}

// Rotate makes next the signing key. The previous signing key stays
// available for verification until Retire is called for it.
func (r *Ring) Rotate(next Key) error {
	if !next.CanSign() {
		return ErrNoSigningKey
	}
	if !validKID(next.ID) {
		return ErrInvalidKeyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.snap.Load()
	snap := &snapshot{current: next.ID, keys: make(map[string]Key, len(prev.keys)+1)}
	for id, k := range prev.keys {
		snap.keys[id] = k.Public()
	}
	snap.keys[next.ID] = next
	r.snap.Store(snap)
	return nil
}

// Retire drops a verification key. Tokens signed by it stop verifying.
func (r *Ring) Retire(kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.snap.Load()
	if kid == prev.current {
		return ErrRetireCurrentKey
	}
	if _, ok := prev.keys[kid]; !ok {
		return ErrUnknownKey
	}

	snap := &snapshot{current: prev.current, keys: make(map[string]Key, len(prev.keys))}
	for id, k := range prev.keys {
		if id != kid {
			snap.keys[id] = k
		}
	}
	r.snap.Store(snap)
	return nil
}

func (r *Ring) SigningKey() (Key, error) {
	snap := r.snap.Load()
	if snap == nil {
		return Key{}, ErrNoSigningKey
	}
	return snap.keys[snap.current], nil
}

func (r *Ring) VerificationKey(kid string) (Key, error) {
	snap := r.snap.Load()
	if snap == nil {
		return Key{}, ErrUnknownKey
	}
	k, ok := snap.keys[kid]
	if !ok {
		return Key{}, ErrUnknownKey
	}
	return k, nil
}

// KeyIDs lists every key id in the ring, sorted.
func (r *Ring) KeyIDs() []string {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]string, 0, len(snap.keys))
	for id := range snap.keys {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CurrentID returns the kid of the signing key.
func (r *Ring) CurrentID() string {
	snap := r.snap.Load()
	if snap == nil {
		return ""
	}
	return snap.current
}
