// Package auth verifies connection tokens and derives the attribution label
// used for operator messages.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). A valid token names the roles the holder may connect as ("device",
// "viewer") and, optionally, a display name. When no key is configured the
// middleware is permissive and callers fall back to connection parameters.
package auth
