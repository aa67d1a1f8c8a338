package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("BEACON_TEST_STR", "  value  ")
	if got := EnvString("BEACON_TEST_STR", "def"); got != "value" {
		t.Fatalf("got %q", got)
	}
	if got := EnvString("BEACON_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("got %q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("BEACON_TEST_BOOL", "true")
	if !EnvBool("BEACON_TEST_BOOL", false) {
		t.Fatalf("want true")
	}
	t.Setenv("BEACON_TEST_BOOL", "nonsense")
	if !EnvBool("BEACON_TEST_BOOL", true) {
		t.Fatalf("invalid value must fall back to default")
	}
	if EnvBool("BEACON_TEST_BOOL_MISSING", false) {
		t.Fatalf("want default false")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("BEACON_TEST_INT", "42")
	if got := EnvInt("BEACON_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("BEACON_TEST_INT", "-3")
	if got := EnvInt("BEACON_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive must fall back, got %d", got)
	}
	t.Setenv("BEACON_TEST_INT", "abc")
	if got := EnvInt("BEACON_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}

func TestEnvInt32(t *testing.T) {
	t.Setenv("BEACON_TEST_I32", "0")
	if got := EnvInt32("BEACON_TEST_I32", 5); got != 0 {
		t.Fatalf("zero is valid, got %d", got)
	}
	t.Setenv("BEACON_TEST_I32", "-1")
	if got := EnvInt32("BEACON_TEST_I32", 5); got != 5 {
		t.Fatalf("got %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("BEACON_TEST_DUR", "90s")
	if got := EnvDuration("BEACON_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("got %v", got)
	}
	t.Setenv("BEACON_TEST_DUR", "-5s")
	if got := EnvDuration("BEACON_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("got %v", got)
	}
	t.Setenv("BEACON_TEST_DUR", "later")
	if got := EnvDuration("BEACON_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("got %v", got)
	}
}
