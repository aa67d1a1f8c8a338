package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHashSHA256HexStable(t *testing.T) {
	a := HashSHA256Hex("tok-1")
	b := HashSHA256Hex("tok-1")
	c := HashSHA256Hex("tok-2")

	if a != b {
		t.Fatalf("same input produced different hashes")
	}
	if a == c {
		t.Fatalf("different inputs collided")
	}
	if len(a) != 64 {
		t.Fatalf("hex length=%d want 64", len(a))
	}
}

func TestFingerprintUsesHMACWhenKeySet(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := Fingerprint("tok")
	if plain != HashSHA256Hex("tok") {
		t.Fatalf("without key, Fingerprint must fall back to SHA-256")
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	keyed := Fingerprint("tok")
	if keyed == plain {
		t.Fatalf("HMAC fingerprint equals plain hash")
	}
	if !HMACEnabled() {
		t.Fatalf("HMACEnabled=false with key set")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("err=%v want ErrHMACKeyMissing", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("err=%v want ErrHMACKeyTooShort", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("HMACKeyFromEnv: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length=%d want 32", len(key))
	}
}
