// Package session issues, rotates, and revokes credentials for
// authenticated principals.
//
// A login yields a short-lived access token (PASETO v4.public by default,
// HS256 JWT optionally) carrying the principal's permission set, and an
// opaque refresh identifier. Refresh identifiers are stored only as keyed
// digests and are single-use: every refresh consumes the presented
// credential and opens a new one.
//
// Access tokens are verified statelessly. Role changes reach a principal's
// tokens on the next refresh.
package session
