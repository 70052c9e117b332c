// Package auth provides user accounts and bearer credentials for CasaLink.
//
// It covers three concerns:
//
//   - User accounts with Argon2id password hashing
//   - JWT access tokens (HS256) whose subject claim is either a user ID
//     (dashboard scope) or an account-link subject (assistant scope)
//   - Opaque refresh tokens, stored hashed
//
// Access tokens are validated by signature only (no DB hit); the caller joins
// the subject claim to its own records afterwards.
package auth
