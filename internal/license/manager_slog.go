package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pixelbarcode/internal/security"
)

// logAction logs a license action and mirrors it as a span event
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all,
		slog.String("license.operation", action),
		slog.String("result", result),
		slog.String("path", m.store.Path()),
	)
	all = append(all, attrs...)
	m.logger.LogAttrs(ctx, level, "License "+action, all...)
}

// logStatus logs a completed check
func (m *Manager) logStatus(ctx context.Context, st Status) {
	attrs := []slog.Attr{slog.String("state", st.State.String())}
	if st.Reason != ReasonNone {
		attrs = append(attrs, slog.String("reason", string(st.Reason)))
	}
	if st.Record != nil {
		attrs = append(attrs, slog.String("machine_id", security.MaskIdentifier(st.Record.MachineID)))
		if st.Record.Expiry != nil {
			attrs = append(attrs, slog.String("expiry", st.Record.Expiry.String()))
		}
	}

	level := slog.LevelDebug
	if st.State != Valid {
		level = slog.LevelWarn
	}
	m.logAction(ctx, level, "check", st.State.String(), attrs...)
}

// logError logs a failed operation and marks the span
func (m *Manager) logError(ctx context.Context, action string, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.logAction(ctx, slog.LevelError, action, "error", slog.String("error", err.Error()))
}
