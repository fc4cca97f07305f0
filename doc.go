// Package goIdentity is an embeddable identity engine: password sign-in,
// signed access, refresh and reauthorization tokens, session-version
// revocation, multi-window rate limiting, MFA challenges, and OAuth linking.
//
// Hosts build one [Engine] through [Builder] and call it from their HTTP
// handlers. Request-facing operations return a [Result] whose Outcome tells
// the handler what to render; errors are classified by [KindOf].
//
// # Architecture boundaries
//
// goIdentity is the public surface. Persistence of identities is the host's
// [IdentityStore]; bundled implementations live in store/sqlite and
// store/postgres. Session versions, rate-limit logs, MFA challenges and
// OAuth states live in Redis when one is configured and in process memory
// otherwise. Flow orchestration lives under internal/ and is never exported.
//
// # Revocation
//
// Every token carries the identity's session version. Bumping the version
// (LogoutEverywhere, ReportCompromise, password and email changes, account
// deletion) invalidates every token minted before it, on every instance
// that shares the version store.
//
// # What this package must NOT do
//
//   - Render HTTP responses beyond the cookie contract in cookies.go.
//   - Store passwords, codes or backup codes in plaintext.
//   - Import any sub-package that re-imports goIdentity.
package goIdentity
