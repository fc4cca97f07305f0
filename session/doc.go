// Package session tracks the session version of each identity.
//
// Every token carries the session version it was minted under. Bumping the
// version revokes every outstanding access, refresh and reauthorization token
// of that identity at once, without a token blacklist.
//
// # Implementations
//
//   - [RedisStore]: INCR in Redis, seeded from and written through to the
//     durable [Persister]. Concurrent cold reads for one identity are collapsed.
//   - [DirectStore]: no Redis; reads and bumps the durable value under a mutex.
//
// # Invariants
//
//   - Versions never move backwards.
//   - A bump is visible to Current as soon as Bump returns, even when the
//     durable write-through fails.
//
// # What this package must NOT do
//
//   - Import goIdentity or jwt (no upward imports).
//   - Interpret tokens.
package session
