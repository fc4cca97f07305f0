// Package middleware adapts an Engine to net/http handlers.
//
// # Guards
//
//   - [RequireAccess] verifies the access token from the Authorization
//     header or access cookie and, when it is close to expiry and a refresh
//     cookie is present, refreshes both cookies transparently.
//   - [RequireReauthorization] lets a request through only with a
//     reauthorization token that authorizes the given operation.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Decide anything beyond pass or reject from the Engine's answer.
package middleware
