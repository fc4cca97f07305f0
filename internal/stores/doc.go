// Package stores keeps the short-lived records of authentication flows:
// MFA challenges, OAuth states, pending MFA setups, pending email changes and
// TOTP replay markers.
//
// # Design
//
// Each store writes a versioned, binary-encoded record through a [Backend]
// (Redis or in-process go-cache) with a TTL slightly longer than the record's
// own expiry, so an expired record can still be told apart from an unknown
// one for a short while. Read-modify-write operations run as WATCH/MULTI
// transactions on Redis, retried on contention, and under a mutex in memory.
// Single-use records are taken with GETDEL; the delete decides the winner.
//
// Expiry is judged with the clock passed to each store, not the backend's.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Generate codes or make authentication decisions; internal/flows does.
//   - Log or expose plaintext secrets.
package stores
