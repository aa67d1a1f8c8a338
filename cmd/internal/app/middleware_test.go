package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestLoggingRecordsStatusAndBytes(t *testing.T) {
	t.Parallel()

	var rec *responseRecorder
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec = w.(*responseRecorder)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	h := WithRequestLogging(inner, discardLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if w.Code != http.StatusTeapot {
		t.Fatalf("status=%d want %d", w.Code, http.StatusTeapot)
	}
	if rec.status != http.StatusTeapot {
		t.Fatalf("recorded status=%d want %d", rec.status, http.StatusTeapot)
	}
	if want := int64(len("short and stout")); rec.bytes != want {
		t.Fatalf("recorded bytes=%d want %d", rec.bytes, want)
	}
}

func TestResponseRecorderPreservesOptionalInterfaces(t *testing.T) {
	t.Parallel()

	base := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: base, status: http.StatusOK}

	// The /ws upgrade needs Hijacker; httptest.ResponseRecorder does not
	// implement it, so the wrapper must fail loudly rather than panic.
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("Hijack on a non-hijackable writer must error")
	}

	rec.Flush()
	if !base.Flushed {
		t.Fatalf("Flush not forwarded")
	}

	n, err := rec.ReadFrom(strings.NewReader("streamed"))
	if err != nil || n != int64(len("streamed")) {
		t.Fatalf("ReadFrom=%d,%v", n, err)
	}
	if rec.bytes != n {
		t.Fatalf("bytes=%d want %d", rec.bytes, n)
	}

	if rec.Unwrap() != http.ResponseWriter(base) {
		t.Fatalf("Unwrap does not return the base writer")
	}
}
