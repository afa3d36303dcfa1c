package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxlabel"

// Attribute keys for the entities a request works on. Spans carry them under
// these names; log records use the key's last segment.
const (
	SessionIDKey       = attribute.Key("voxlabel.session_id")
	TranscriptionIDKey = attribute.Key("voxlabel.transcription_id")
	SpeakerIDKey       = attribute.Key("voxlabel.speaker_id")
)

// Scope names the session, transcription and speaker an operation touches.
// Empty fields are unknown and omitted.
type Scope struct {
	SessionID       string
	TranscriptionID string
	SpeakerID       string
}

type scopeKey struct{}

// WithScope merges s into the scope stored in ctx, non-empty fields winning,
// and tags the active span with the result.
func WithScope(ctx context.Context, s Scope) context.Context {
	cur := ScopeFrom(ctx)
	if s.SessionID != "" {
		cur.SessionID = s.SessionID
	}
	if s.TranscriptionID != "" {
		cur.TranscriptionID = s.TranscriptionID
	}
	if s.SpeakerID != "" {
		cur.SpeakerID = s.SpeakerID
	}
	trace.SpanFromContext(ctx).SetAttributes(cur.attributes()...)
	return context.WithValue(ctx, scopeKey{}, cur)
}

// ScopeFrom returns the scope stored in ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

func (s Scope) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.SessionID != "" {
		kv = append(kv, SessionIDKey.String(s.SessionID))
	}
	if s.TranscriptionID != "" {
		kv = append(kv, TranscriptionIDKey.String(s.TranscriptionID))
	}
	if s.SpeakerID != "" {
		kv = append(kv, SpeakerIDKey.String(s.SpeakerID))
	}
	return kv
}

// StartSpan starts a span under the voxlabel tracer, tagged with the scope in
// ctx. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if kv := ScopeFrom(ctx).attributes(); len(kv) > 0 {
		opts = append(opts, trace.WithAttributes(kv...))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the scope in ctx and, inside a span,
// trace_id and span_id attached.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	s := ScopeFrom(ctx)
	if s.SessionID != "" {
		args = append(args, slog.String("session_id", s.SessionID))
	}
	if s.TranscriptionID != "" {
		args = append(args, slog.String("transcription_id", s.TranscriptionID))
	}
	if s.SpeakerID != "" {
		args = append(args, slog.String("speaker_id", s.SpeakerID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	l := slog.Default()
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}
