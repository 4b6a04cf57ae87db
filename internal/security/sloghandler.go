package security

import (
	"context"
	"encoding/json"
	"log/slog"
)

// RedactingHandler scrubs secrets from log records before the inner
// handler formats them. Attributes named like secrets are masked whole;
// raw JSON attributes such as tool parameters are redacted field by
// field; every other string is scanned.
type RedactingHandler struct {
	inner    slog.Handler
	redactor *Redactor
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps inner.
func NewRedactingHandler(inner slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{inner: inner, redactor: redactor}
}

// Enabled delegates to the inner handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redactor.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.scrub(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler. Attributes are scrubbed once here.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.scrub(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean), redactor: h.redactor}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) scrub(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	kind := a.Value.Kind()

	if kind == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			clean[i] = h.scrub(ga)
		}
		a.Value = slog.GroupValue(clean...)
		return a
	}
	if IsSecretKey(a.Key) && (kind == slog.KindString || kind == slog.KindAny) {
		a.Value = slog.StringValue(RedactPlaceholder)
		return a
	}

	switch kind {
	case slog.KindString:
		a.Value = slog.StringValue(h.redactor.Redact(a.Value.String()))
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case json.RawMessage:
			a.Value = slog.StringValue(string(h.redactor.RedactJSON(v)))
		case []byte:
			a.Value = slog.StringValue(h.redactor.Redact(string(v)))
		default:
			s := a.Value.String()
			if clean := h.redactor.Redact(s); clean != s {
				a.Value = slog.StringValue(clean)
			}
		}
	}
	return a
}
