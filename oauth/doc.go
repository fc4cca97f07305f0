// Package oauth defines the boundary to third-party identity providers.
//
// The engine only talks to [Provider]. [OAuth2Provider] implements it for any
// authorization-code provider that exposes a JSON user-info endpoint, using
// golang.org/x/oauth2 for the redirect and the code exchange. Provider
// specific endpoints and scopes are configuration, never code here.
//
// # What this package must NOT do
//
//   - Keep state between the redirect and the callback; the engine stores it.
//   - Decide how an external account maps to an identity.
package oauth
