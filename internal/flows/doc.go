// Package flows holds the orchestration behind the engine's multi-step
// operations: password authentication, MFA challenge verification, token
// refresh, access verification and the OAuth callback.
//
// Each Run function takes a dependency struct of closures and returns a
// result whose Failure kind the root package maps onto its public error
// taxonomy. Flows own no resources and keep no state between calls.
//
// # What this package must NOT do
//
//   - Import the root package.
//   - Perform I/O other than through its dependency closures.
package flows
