package logging

import (
	"log/slog"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

type journalRecord struct {
	msg      string
	priority journal.Priority
	fields   map[string]string
}

func captureJournal(t *testing.T) *[]journalRecord {
	t.Helper()
	var got []journalRecord
	old := journalSend
	journalSend = func(msg string, p journal.Priority, vars map[string]string) error {
		got = append(got, journalRecord{msg: msg, priority: p, fields: vars})
		return nil
	}
	t.Cleanup(func() { journalSend = old })
	return &got
}

func TestJournalHandler_Fields(t *testing.T) {
	got := captureJournal(t)

	logger := slog.New(NewJournalHandler(slog.LevelInfo)).
		With("module", "pipeline", "pipeline", "main")
	logger.WithGroup("flush").Warn("Sequencer stalled",
		"packet-seq", uint64(7),
		"wait", 2*time.Second,
		slog.Group("layer", "index", 1, "enabled", true),
	)
	logger.Debug("filtered")

	if len(*got) != 1 {
		t.Fatalf("records = %d, want 1", len(*got))
	}
	rec := (*got)[0]
	if rec.msg != "Sequencer stalled" || rec.priority != journal.PriWarning {
		t.Errorf("record = %q priority %d", rec.msg, rec.priority)
	}
	want := map[string]string{
		"SYSLOG_IDENTIFIER":   "scanout",
		"MODULE":              "pipeline",
		"PIPELINE":            "main",
		"FLUSH_PACKET_SEQ":    "7",
		"FLUSH_WAIT":          "2s",
		"FLUSH_LAYER_INDEX":   "1",
		"FLUSH_LAYER_ENABLED": "true",
	}
	for k, v := range want {
		if rec.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, rec.fields[k], v)
		}
	}
}

func TestJournalHandler_WithAttrsDoesNotLeak(t *testing.T) {
	got := captureJournal(t)

	base := NewJournalHandler(slog.LevelDebug)
	slog.New(base.WithAttrs([]slog.Attr{slog.String("component", "ovl0")})).Info("a")
	slog.New(base).Info("b")

	if len(*got) != 2 {
		t.Fatalf("records = %d", len(*got))
	}
	if (*got)[0].fields["COMPONENT"] != "ovl0" {
		t.Error("derived handler lost its attribute")
	}
	if _, ok := (*got)[1].fields["COMPONENT"]; ok {
		t.Error("attribute leaked into the parent handler")
	}
}

func TestJournalPriority(t *testing.T) {
	cases := map[slog.Level]journal.Priority{
		slog.LevelDebug:     journal.PriDebug,
		slog.LevelInfo:      journal.PriInfo,
		slog.LevelWarn:      journal.PriWarning,
		slog.LevelError:     journal.PriErr,
		slog.LevelError + 4: journal.PriErr,
	}
	for level, want := range cases {
		if got := journalPriority(level); got != want {
			t.Errorf("journalPriority(%v) = %d, want %d", level, got, want)
		}
	}
}
