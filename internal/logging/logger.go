// Package logging wraps structured logging behind a small interface so that
// services and repositories never depend on a concrete backend. The only
// implementation today sits on top of log/slog.
package logging

import "context"

// Logger accepts a message plus alternating key/value attribute pairs:
//
//	log.Info(ctx, "batch uploaded", "device_id", id, "entries", len(items))
//
// The context is passed through to the backend so handlers that extract
// request-scoped values keep working.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a derived logger whose every record carries the given
	// attribute pairs, typically a module or device tag.
	With(args ...any) Logger
}
