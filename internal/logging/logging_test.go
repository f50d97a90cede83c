package logging

import (
	"log/slog"
	"testing"
)

func TestFieldName(t *testing.T) {
	cases := map[string]string{
		"exit_code": "EXIT_CODE",
		"reason":    "REASON",
		"unit-name": "UNIT_NAME",
		"pid":       "PID",
	}
	for in, want := range cases {
		if got := fieldName(in); got != want {
			t.Errorf("fieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPriorityMapping(t *testing.T) {
	if priority(slog.LevelError) == priority(slog.LevelInfo) {
		t.Fatalf("error and info must map to distinct priorities")
	}
	if priority(slog.LevelDebug) == priority(slog.LevelWarn) {
		t.Fatalf("debug and warn must map to distinct priorities")
	}
}

func TestWithGroupPrefixesFields(t *testing.T) {
	h := &journalHandler{}
	g, ok := h.WithGroup("worker").(*journalHandler)
	if !ok {
		t.Fatalf("WithGroup should return a journalHandler")
	}

	vars := map[string]string{}
	addField(vars, g.prefix, slog.String("pid", "42"))
	if _, ok := vars["JO_WORKER_PID"]; !ok {
		t.Fatalf("expected JO_WORKER_PID field, got %v", vars)
	}
}

func TestAttrsBeforeGroupKeepTheirKeys(t *testing.T) {
	var h slog.Handler = &journalHandler{}
	h = h.WithAttrs([]slog.Attr{slog.String("unit", "overseer.service")})
	h = h.WithGroup("worker")
	h = h.WithAttrs([]slog.Attr{slog.String("pid", "42")})

	jh, ok := h.(*journalHandler)
	if !ok {
		t.Fatalf("WithAttrs should return a journalHandler")
	}

	vars := map[string]string{}
	for _, a := range jh.attrs {
		addField(vars, "", a)
	}
	if _, ok := vars["JO_UNIT"]; !ok {
		t.Fatalf("attr added before the group must keep its key, got %v", vars)
	}
	if _, ok := vars["JO_WORKER_PID"]; !ok {
		t.Fatalf("attr added after the group must carry the group prefix, got %v", vars)
	}
	if _, ok := vars["JO_WORKER_UNIT"]; ok {
		t.Fatalf("group prefix leaked onto an earlier attr: %v", vars)
	}
}
