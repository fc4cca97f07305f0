package stores

import (
	"context"
	"time"
)

// ReplayGuard remembers one-time values, such as a TOTP time step already
// used by an identity.
type ReplayGuard struct {
	b Backend
}

func NewReplayGuard(b Backend) *ReplayGuard {
	return &ReplayGuard{b: b}
}

// MarkUsed returns true the first time key is seen within ttl.
func (g *ReplayGuard) MarkUsed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.b.putNew(ctx, "replay:"+key, []byte{1}, ttl)
}
