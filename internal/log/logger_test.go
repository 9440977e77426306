package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentAPI, Output: &buf})

	logger.Info("request sent", FieldMethod, "GET")
	logger.WithComponent(ComponentSession).Debug("cleared")

	out := buf.String()
	if !strings.Contains(out, "component=api") || !strings.Contains(out, "method=GET") {
		t.Fatalf("missing fields in %q", out)
	}
	if !strings.Contains(out, "component=session") {
		t.Fatalf("WithComponent not applied: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithOperation(OpLogin).
		WithError(errors.New("boom"), ErrorTypeNetwork).
		WithResponse(404, 12)
	if f[FieldOperation] != OpLogin || f[FieldError] != "boom" || f[FieldErrorType] != ErrorTypeNetwork {
		t.Fatalf("unexpected fields: %v", f)
	}
	if f[FieldSuccess] != false {
		t.Fatalf("404 is not a success")
	}
	if len(NewFields().WithError(nil, ErrorTypeAuth)) != 0 {
		t.Fatalf("nil error must not add fields")
	}
	if len(f.ToSlice()) != len(f)*2 {
		t.Fatalf("ToSlice length mismatch")
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentHTTP, Output: &buf})

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got != logger {
		t.Fatalf("logger not stored in context")
	}
	if !strings.Contains(buf.String(), "status_code=418") {
		t.Fatalf("request not logged: %q", buf.String())
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}
