// Package token issues and verifies Beacon's signed bearer credentials.
//
// Both access and refresh tokens are PASETO v4.public tokens signed with an
// Ed25519 keypair. They are self-describing: issuer, audience, subject
// (user id), token kind, session id, remember-me flag, issued-at and
// expiry all travel inside the token. Verification checks the signature
// and every claim, and additionally consults the revocation store; a
// revoked fingerprint wins over any claim validity.
package token
