// Package jwt decodes the credential tokens issued by the library backend and
// exposes the claims the session layer needs: subject, role and expiry.
//
// Decoding is unverified by default because the client trusts the login
// endpoint that handed it the token. Supplying a verify key switches the
// Decoder to full signature checking (HS256 or Ed25519).
package jwt
