// Package token provides one-way token fingerprinting.
//
// The revocation store never holds raw credentials: it stores a SHA-256
// (or HMAC-SHA256, when a key is configured) hex digest of the token.
// This bounds memory and keeps secrets out of server-side state.
package token
