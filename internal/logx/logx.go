package logx

import (
	"context"

	"pkt.systems/pslog"
)

type contextKey int

const (
	visitorKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// WithVisitor annotates the context logger with the visitor id if present.
func WithVisitor(ctx context.Context, visitorID string) pslog.Logger {
	log := Ctx(ctx)
	if visitorID == "" {
		return log
	}
	if current, ok := ctx.Value(visitorKey).(string); ok && current == visitorID {
		return log
	}
	return log.With("visitor", visitorID)
}

// WithTab annotates the logger with a tab id when available.
func WithTab(log pslog.Logger, tabID string) pslog.Logger {
	if tabID != "" {
		log = log.With("tab", tabID)
	}
	return log
}

// WithSession annotates the logger with a page session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// ContextWithVisitor stores the visitor on the context and binds an annotated logger.
func ContextWithVisitor(ctx context.Context, visitorID string) context.Context {
	if ctx == nil || visitorID == "" {
		return ctx
	}
	log := WithVisitor(ctx, visitorID)
	ctx = context.WithValue(ctx, visitorKey, visitorID)
	return pslog.ContextWithLogger(ctx, log)
}
