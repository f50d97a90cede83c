// Package logging builds the supervisor's logger. Under systemd the journal
// socket is present and log records go straight to journald with structured
// fields; anywhere else they go to stderr as text.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// New returns the process-wide logger.
func New() *slog.Logger {
	if journal.Enabled() {
		return slog.New(&journalHandler{})
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// journalHandler is a slog.Handler that forwards records to journald.
// Attribute keys become journal fields, uppercased with a JO_ prefix so they
// never collide with the journal's own well-known fields.
type journalHandler struct {
	attrs  []slog.Attr
	prefix string
}

var _ slog.Handler = (*journalHandler)(nil)

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := make(map[string]string, len(h.attrs)+r.NumAttrs())
	// Accumulated attrs were stamped with the prefix in effect when they
	// were added; only attrs on the record itself take the current prefix.
	for _, a := range h.attrs {
		addField(vars, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(vars, h.prefix, a)
		return true
	})
	return journal.Send(r.Message, priority(r.Level), vars)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		merged = append(merged, slog.Attr{Key: h.prefix + fieldName(a.Key), Value: a.Value})
	}
	return &journalHandler{attrs: merged, prefix: h.prefix}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &journalHandler{attrs: h.attrs, prefix: h.prefix + fieldName(name) + "_"}
}

func addField(vars map[string]string, prefix string, a slog.Attr) {
	if a.Key == "" {
		return
	}
	vars["JO_"+prefix+fieldName(a.Key)] = fmt.Sprint(a.Value.Any())
}

// fieldName maps an attribute key to a valid journal field name: uppercase
// ASCII, digits and underscores only.
func fieldName(key string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(key) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
