// Package jwt mints and verifies the three identity token kinds: access,
// refresh and reauthorization.
//
// The token kind travels in the "aud" claim and is enforced on parse, so a
// refresh token can never be accepted as an access token. Every token embeds
// the identity's session version ("sv"); comparing it with the current value
// is the caller's job.
//
// Signing keys are resolved through [keys.Source] by the "kid" header, which
// lets keys rotate without invalidating tokens already in flight.
//
// Parse failures are reduced to [ErrExpired], [ErrMalformed] and
// [ErrInvalidClaims]; the underlying library error is wrapped for logs.
package jwt
