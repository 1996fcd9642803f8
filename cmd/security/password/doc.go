// Package password hashes and verifies principal credentials.
//
// New hashes are Argon2id in PHC string form. Verification also accepts
// bcrypt hashes ($2a$, $2b$, $2y$) so that accounts created before the
// Argon2id migration can still log in.
//
// Encoded hashes are untrusted input: Verify rejects malformed strings and
// parameters far above the configured cost.
package password
