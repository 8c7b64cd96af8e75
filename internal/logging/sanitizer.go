package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// Redacted replaces every secret the sanitizer finds.
const Redacted = "[REDACTED]"

// Sanitizer redacts provider keys and connection secrets from strings.
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	raw := []string{
		// OpenRouter
		`sk-or-v1-[A-Za-z0-9]{20,}`,
		// Anthropic
		`sk-ant-[A-Za-z0-9-]{20,}`,
		// OpenAI
		`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`,
		// Google AI
		`AIza[A-Za-z0-9_-]{35}`,
		`(?i)bearer\s+[A-Za-z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[A-Za-z0-9_-]{20,}`,
		// user:password@ in MySQL DSNs and redis URLs
		`(?i)(?:redis|rediss|mysql)?(?:://)?[A-Za-z0-9_.-]*:[^@\s/]{3,}@(?:tcp\(|unix\(|[A-Za-z0-9.-]+)`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return &Sanitizer{patterns: patterns}
}

// Sanitize redacts every match in input.
func (s *Sanitizer) Sanitize(input string) string {
	for _, p := range s.patterns {
		input = p.ReplaceAllString(input, Redacted)
	}
	return input
}

// SanitizingHandler wraps a handler and sanitizes the message and every
// string attribute.
type SanitizingHandler struct {
	handler   slog.Handler
	sanitizer *Sanitizer
}

// NewSanitizingHandler wraps handler.
func NewSanitizingHandler(handler slog.Handler, sanitizer *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{handler: handler, sanitizer: sanitizer}
}

// Enabled defers to the wrapped handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle sanitizes r and passes it on.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, h.sanitizer.Sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

// WithAttrs sanitizes attrs before attaching them.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.sanitizeAttr(a)
	}
	return &SanitizingHandler{handler: h.handler.WithAttrs(clean), sanitizer: h.sanitizer}
}

// WithGroup opens a group on the wrapped handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{handler: h.handler.WithGroup(name), sanitizer: h.sanitizer}
}

func (h *SanitizingHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.sanitizer.Sanitize(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		clean := make([]slog.Attr, len(group))
		for i, g := range group {
			clean[i] = h.sanitizeAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, h.sanitizer.Sanitize(err.Error()))
		}
		return a
	default:
		return a
	}
}
