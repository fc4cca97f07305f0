// Package password hashes and verifies passwords.
//
// [Bcrypt] is the default [Hasher]. [Argon2] produces argon2id hashes in PHC
// string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Migrating] verifies hashes of several formats while hashing new passwords
// with one. Every hasher reports [Hasher.NeedsRehash] for hashes produced with
// weaker parameters or another format, so the caller can re-hash on the next
// successful login.
//
// # What this package must NOT do
//
//   - Enforce password policy (length, character classes); the engine does.
//   - Store or retrieve hashes.
//   - Log plaintext passwords.
package password
