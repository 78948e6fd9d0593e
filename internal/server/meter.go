package server

import (
	"context"

	"github.com/shayan1083/rbchat-backend/internal/ratelimit"
	"github.com/shayan1083/rbchat-backend/internal/usagelog"
)

// UsageMeter forwards usage entries to the underlying recorder and charges
// the token window for reported output tokens.
//
// The input side of a turn is charged at admission, when its estimated cost
// is reserved. Output cost is unknowable until the provider reports it, so it
// is added here at completion. Reservations are never released or reconciled
// against the actuals; the window only ever grows within its horizon.
type UsageMeter struct {
	window *ratelimit.UsageWindow
	inner  interface {
		Record(ctx context.Context, e usagelog.Entry)
	}
}

// NewUsageMeter wraps a usage recorder with window accounting.
func NewUsageMeter(window *ratelimit.UsageWindow, inner interface {
	Record(ctx context.Context, e usagelog.Entry)
}) *UsageMeter {
	return &UsageMeter{window: window, inner: inner}
}

// Record implements the orchestrator's usage recorder.
func (m *UsageMeter) Record(ctx context.Context, e usagelog.Entry) {
	if e.OutputTokens != nil {
		m.window.Record(*e.OutputTokens)
	}
	m.inner.Record(ctx, e)
}
