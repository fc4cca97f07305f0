// Package keys holds the signing and verification keys used for identity tokens.
//
// A [Ring] has exactly one current signing key and any number of additional
// verification-only keys, all addressed by key id (the JWT "kid" header).
// Rotation installs a new signing key while the previous one keeps verifying
// tokens until it is retired, so rotation never logs anyone out.
//
// Keys come from PEM files ([ParsePrivatePEM], [LoadDir]), raw HMAC secrets
// ([NewHMAC]) or fresh generation ([Generate]). [Watcher] reloads a key
// directory into a ring when files change.
//
// # What this package must NOT do
//
//   - Mint or parse tokens; package jwt does that.
//   - Log key material.
package keys
