package realtime

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	v1 "beacon/shared/contracts/wire/v1"
)

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://app.example.com", "app.example.com"},
		{"https://App.Example.COM:8443", "app.example.com"},
		{"http://localhost:3000", "localhost"},
		{"app.example.com", "app.example.com"},
		{"app.example.com:8080", "app.example.com"},
		{"  https://spaced.example.com  ", "spaced.example.com"},
		{"", ""},
		{"https://", ""},
	}
	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Errorf("originHostOnly(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"https://b.example.com",
		"https://a.example.com:443",
		"https://b.example.com:8443", // same host, different port
		"*",                          // wildcard never becomes a pattern
		"",
	})
	want := []string{"a.example.com", "b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns=%v want %v", got, want)
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want readErrKind
	}{
		{"ctx canceled", context.Canceled, readErrCtxDone},
		{"ctx deadline", context.DeadlineExceeded, readErrCtxDone},
		{"net closed", net.ErrClosed, readErrConnClosed},
		{"eof", io.EOF, readErrConnClosed},
		{"wrapped ctx", errors.Join(errors.New("read"), context.Canceled), readErrCtxDone},
		{"bad json", errors.New("invalid character 'x' looking for beginning of value"), readErrBadJSON},
		{"unknown", errors.New("boom"), readErrUnknown},
	}
	for _, tc := range cases {
		if got := classifyReadErr(tc.err); got != tc.want {
			t.Errorf("%s: classifyReadErr=%d want %d", tc.name, got, tc.want)
		}
	}
}

func TestReplyEnvelopeCorrelation(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	env := newReplyEnvelope(v1.TypeOK, "req-42", nil, now)
	if env.ID != "req-42" {
		t.Fatalf("id=%q want req-42", env.ID)
	}
	if env.V != v1.Version || env.Type != v1.TypeOK {
		t.Fatalf("envelope header mismatch: %+v", env)
	}

	// Without a request id the reply keeps its own fresh id.
	env = newReplyEnvelope(v1.TypeError, "", nil, now)
	if env.ID == "" {
		t.Fatalf("reply without request id must still carry an id")
	}
}
