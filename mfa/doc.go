// Package mfa defines second-factor methods and how each one is verified.
//
// A [Verifier] exists per [Method]. TOTP codes are checked with
// github.com/pquerna/otp and each accepted time step is recorded through a
// [ReplayGuard] so a code cannot be used twice. SMS and email codes are
// compared against the hash stored on the challenge. Backup codes are
// consumed through a [BackupCodeConsumer], which must delete the matching
// hash atomically.
//
// # What this package must NOT do
//
//   - Hold challenge state or attempt counters; the engine owns those.
//   - Deliver codes.
package mfa
