package logging

import (
	"context"
	"log/slog"
	"time"
)

// Standard attribute keys. Console output renders FieldComponent and
// FieldPath in the line header; everything else is key=value.
const (
	FieldComponent  = "component"
	FieldPath       = "path"
	FieldPlatform   = "platform"
	FieldSignal     = "signal"
	FieldConfidence = "confidence"
	FieldRunID      = "run_id"

	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the consequence of a warning for the current run.
	FieldImpact = "impact"
	// FieldDecision marks records describing an identification verdict.
	FieldDecision = "decision"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(discardHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

func hasKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Missing fields get generic values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if !hasKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !hasKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, "rerun with --log-level debug for details"))
	}
	if !hasKey(attrs, FieldImpact) {
		attrs = append(attrs, String(FieldImpact, "result may be less certain"))
	}
	logger.Warn(msg, Args(attrs...)...)
}

// Verdict describes one identification decision for logging.
type Verdict struct {
	Path       string
	Platform   string
	Signal     string
	Confidence float64
	Reason     string
}

// VerdictAttrs renders v with the standard keys. An empty platform is
// reported as "unknown".
func VerdictAttrs(v Verdict) []Attr {
	platform := v.Platform
	if platform == "" {
		platform = "unknown"
	}
	attrs := []Attr{
		String(FieldDecision, "identification"),
		String(FieldPath, v.Path),
		String(FieldPlatform, platform),
		String(FieldSignal, v.Signal),
		Float64(FieldConfidence, v.Confidence),
	}
	if v.Reason != "" {
		attrs = append(attrs, String("reason", v.Reason))
	}
	return attrs
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

func (discardHandler) Handle(context.Context, slog.Record) error { return nil }

func (discardHandler) WithAttrs([]slog.Attr) slog.Handler { return discardHandler{} }

func (discardHandler) WithGroup(string) slog.Handler { return discardHandler{} }
