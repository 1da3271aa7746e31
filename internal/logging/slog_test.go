package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_AllLevelsReachHandler(t *testing.T) {
	log, buf := newBufferedLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "pinging checkout registry", "attempt", 1)
	log.Info(ctx, "batch uploaded", "entries", 3)
	log.Warn(ctx, "queue depth past soft limit", "depth", 480)
	log.Error(ctx, "reconcile failed", "idempotency_key", "dev-7:tx-1")

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=\"pinging checkout registry\"", "attempt=1",
		"level=INFO", "msg=\"batch uploaded\"", "entries=3",
		"level=WARN", "depth=480",
		"level=ERROR", "idempotency_key=dev-7:tx-1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSlogLogger_WithCarriesAttributes(t *testing.T) {
	log, buf := newBufferedLogger(t)

	child := log.With("module", "reconciliation", "worker", 2)
	child.Info(context.Background(), "pass complete", "claimed", 5)

	out := buf.String()
	for _, want := range []string{"module=reconciliation", "worker=2", "claimed=5", "msg=\"pass complete\""} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSlogLogger_WithDoesNotMutateParent(t *testing.T) {
	log, buf := newBufferedLogger(t)

	_ = log.With("module", "devices")
	log.Info(context.Background(), "plain")

	if strings.Contains(buf.String(), "module=devices") {
		t.Fatalf("parent logger picked up child attributes:\n%s", buf.String())
	}
}
