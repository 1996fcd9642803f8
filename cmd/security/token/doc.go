// Package token derives storage keys for opaque refresh credentials.
//
// Refresh identifiers are never persisted in plaintext. Stores key rows by
// HMAC-SHA256(id, key) when GATEHOUSE_TOKEN_HMAC_KEY is configured and by
// plain SHA-256 otherwise. Both produce 64 lowercase hex characters.
package token
