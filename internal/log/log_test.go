package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/lanekessler/renderpipe/internal/xerrors"
)

func jsonLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	lg, err := New(Options{App: "test", Level: lvl, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lg, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v\n%s", err, buf.String())
	}
	return rec
}

// ParseLevel

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

// Basic emit paths

func TestInfo_EmitsMessageAndAttrs(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	lg.Info(context.Background(), "hello", "k", "v")

	rec := lastRecord(t, buf)
	if rec["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", rec["msg"])
	}
	if rec["k"] != "v" {
		t.Fatalf("k = %v, want v", rec["k"])
	}
	if rec["app"] != "test" {
		t.Fatalf("app = %v, want test", rec["app"])
	}
}

func TestDebug_SuppressedBelowLevel(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	lg.Debug(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
}

// With

func TestWith_AddsPersistentAttrs(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	child := lg.With("component", "cache")
	child.Info(context.Background(), "hit")

	rec := lastRecord(t, buf)
	if rec["component"] != "cache" {
		t.Fatalf("component = %v, want cache", rec["component"])
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	_ = lg.With("component", "cache")
	lg.Info(context.Background(), "plain")

	rec := lastRecord(t, buf)
	if _, ok := rec["component"]; ok {
		t.Fatal("parent logger should not carry child attrs")
	}
}

// Error enrichment

func TestError_IncludesChainAndOrigin(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)

	root := xerrors.New("root cause")
	err := xerrors.Wrap(root, "loading bundle")
	lg.Error(context.Background(), err, "failed")

	rec := lastRecord(t, buf)
	if rec["err"] != "loading bundle: root cause" {
		t.Fatalf("err = %v", rec["err"])
	}
	chain, ok := rec["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v, want 2 entries", rec["error_chain"])
	}
	origin, _ := rec["origin"].(string)
	if !strings.Contains(origin, "TestError_IncludesChainAndOrigin") {
		t.Fatalf("origin = %q, want this test function", origin)
	}
}

func TestError_PlainErrorHasNoOrigin(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	lg.Error(context.Background(), errors.New("boom"), "failed")

	rec := lastRecord(t, buf)
	if _, ok := rec["origin"]; ok {
		t.Fatal("plain error should not produce origin attr")
	}
}

func TestError_NilErrorStillLogs(t *testing.T) {
	lg, buf := jsonLogger(t, slog.LevelInfo)
	lg.Error(context.Background(), nil, "message only")

	rec := lastRecord(t, buf)
	if rec["msg"] != "message only" {
		t.Fatalf("msg = %v", rec["msg"])
	}
	if _, ok := rec["err"]; ok {
		t.Fatal("nil error should not produce err attr")
	}
}

// Context carrier

func TestContext_RoundTrip(t *testing.T) {
	lg, _ := jsonLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), lg)
	if got := FromContext(ctx); got != lg {
		t.Fatal("FromContext should return the stored logger")
	}
}

func TestContext_MissingFallsBackToNop(t *testing.T) {
	got := FromContext(context.Background())
	if got == nil {
		t.Fatal("FromContext should never return nil")
	}
	// must be safe to use
	got.Info(context.Background(), "ignored")
}
