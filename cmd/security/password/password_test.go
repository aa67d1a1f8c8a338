package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps Argon2 cheap for tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()

	hash, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}

	ok, err := cfg.Verify(hash, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify(correct)=%v,%v want true,nil", ok, err)
	}

	ok, err = cfg.Verify(hash, "wrong password")
	if err != nil {
		t.Fatalf("Verify(wrong) err: %v", err)
	}
	if ok {
		t.Fatalf("wrong password verified")
	}
}

func TestHashIsSalted(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()

	h1, err := cfg.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := cfg.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two hashes of the same password are identical (missing salt?)")
	}
}

func TestLengthBounds(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()

	if _, err := cfg.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("short: err=%v want ErrPasswordTooShort", err)
	}
	if _, err := cfg.Hash(strings.Repeat("x", cfg.MaxLength+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("long: err=%v want ErrPasswordTooLong", err)
	}

	// An oversized candidate simply fails to match.
	hash, err := cfg.Hash("valid password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := cfg.Verify(hash, strings.Repeat("x", cfg.MaxLength+1))
	if err != nil || ok {
		t.Fatalf("oversized candidate: ok=%v err=%v want false,nil", ok, err)
	}
}

func TestVerifyRejectsGarbageHash(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()

	if _, err := cfg.Verify("not-a-phc-string", "whatever password"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err=%v want ErrInvalidHash", err)
	}
}
