package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSLogLoggerWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug("abac decision", "subject", "u1", "allowed", true, "dangling")
	out := buf.String()
	for _, want := range []string{"abac decision", "subject=u1", "allowed=true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "dangling") {
		t.Fatalf("a key without a value must be dropped: %q", out)
	}
}

func TestSLogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})))
	l.Info("hidden")
	l.Error("shown", "error", "boom")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNullAndPhusluLoggersDoNotPanic(t *testing.T) {
	for _, l := range []Logger{NewNullLogger(), NewPhusluLogger()} {
		l.Debug("debug", "k", "v", "n", 1)
		l.Info("info", "ok", true)
		l.Error("error", "err", nil)
	}
}
