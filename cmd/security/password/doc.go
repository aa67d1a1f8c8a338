// Package password implements Argon2id password hashing with PHC-encoded
// output, strict decoding, and anti-DoS bounds during verification.
//
// Stored values are never plaintext and never a bare digest: the encoded
// string carries the parameters needed to verify, so parameters can be
// tuned over time without invalidating existing hashes.
package password
