package logging

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler records log lines as breadcrumbs on the request hub and
// captures error records as Sentry events.
type SentryHandler struct {
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func NewSentryHandler(level slog.Leveler) *SentryHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SentryHandler{level: level}
}

func (h *SentryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SentryHandler) Handle(ctx context.Context, record slog.Record) error {
	hub := sentry.CurrentHub()
	if ctx != nil {
		if requestHub := sentry.GetHubFromContext(ctx); requestHub != nil {
			hub = requestHub
		}
	}
	if hub.Client() == nil {
		return nil
	}

	data := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		data[h.key(attr.Key)] = attr.Value.Resolve().Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		data[h.key(attr.Key)] = attr.Value.Resolve().Any()
		return true
	})

	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  "log",
		Message:   record.Message,
		Level:     sentryLevel(record.Level),
		Data:      data,
		Timestamp: record.Time,
	}, nil)

	if record.Level >= slog.LevelError {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetContext("log", sentry.Context(data))
			hub.CaptureMessage(record.Message)
		})
	}
	return nil
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = h.key(name)
	return &next
}

func (h *SentryHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
