package token

import (
	"os"
	"time"
)

// Config defines runtime configuration for the token service.
//
// It controls token lifetimes, clock skew tolerance, and the PASETO v4
// signing key. It is environment-driven so production deployments can tune
// security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// Audience is the value set in the "aud" claim.
	Audience string

	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration

	// RefreshTTLRemember is the refresh lifetime under the remember-me flag.
	RefreshTTLRemember time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public tokens.
	SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:             "beacon",
		Audience:           "beacon-clients",
		AccessTTL:          1 * time.Hour,
		RefreshTTL:         7 * 24 * time.Hour,
		RefreshTTLRemember: 30 * 24 * time.Hour,
		ClockSkew:          30 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - BEACON_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - BEACON_AUTH_ISSUER
//   - BEACON_AUTH_AUDIENCE
//   - BEACON_AUTH_ACCESS_TTL
//   - BEACON_AUTH_REFRESH_TTL
//   - BEACON_AUTH_REFRESH_TTL_REMEMBER
//   - BEACON_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BEACON_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("BEACON_AUTH_AUDIENCE"); v != "" {
		cfg.Audience = v
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"BEACON_AUTH_ACCESS_TTL", &cfg.AccessTTL},
		{"BEACON_AUTH_REFRESH_TTL", &cfg.RefreshTTL},
		{"BEACON_AUTH_REFRESH_TTL_REMEMBER", &cfg.RefreshTTLRemember},
		{"BEACON_AUTH_CLOCK_SKEW", &cfg.ClockSkew},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil || dur < 0 {
			return Config{}, ErrConfig
		}
		*d.dst = dur
	}

	cfg.SecretKeyHex = os.Getenv("BEACON_PASETO_V4_SECRET_KEY_HEX")
	if cfg.SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Invariant: remember-me must not shorten the refresh lifetime.
	if cfg.RefreshTTLRemember < cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
