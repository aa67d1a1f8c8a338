package app

import (
	"errors"

	"beacon/cmd/security/token"
)

// ValidateSecurityConfig enforces Beacon's security policy at startup.
//
// Fail-fast is intentional: silently falling back to weaker crypto in
// production is unacceptable. Enforcement goes through the same module
// that performs fingerprinting (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: BEACON_REQUIRE_TOKEN_HMAC=true but BEACON_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: BEACON_REQUIRE_TOKEN_HMAC=true but BEACON_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: fingerprinting must actually be in HMAC mode.
	if !token.HMACEnabled() {
		return errors.New("security policy: BEACON_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
