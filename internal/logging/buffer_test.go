package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
)

func fillBuffer(rb *RingBuffer, n int) {
	for i := 0; i < n; i++ {
		module := "pipeline"
		if i%2 == 1 {
			module = "api"
		}
		rb.Write(LogEntry{Module: module, Message: fmt.Sprintf("m%d", i)})
	}
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := NewRingBuffer(3)
	if rb.ReadAll() != nil {
		t.Fatal("empty buffer should read nil")
	}
	fillBuffer(rb, 5)

	if rb.Count() != 3 {
		t.Fatalf("count = %d, want 3", rb.Count())
	}
	all := rb.ReadAll()
	for i, want := range []string{"m2", "m3", "m4"} {
		if all[i].Message != want {
			t.Errorf("entry %d = %s, want %s", i, all[i].Message, want)
		}
	}
}

func TestRingBuffer_Query(t *testing.T) {
	rb := NewRingBuffer(10)
	fillBuffer(rb, 7)

	got := rb.Query("pipeline", 2)
	if len(got) != 2 || got[0].Message != "m4" || got[1].Message != "m6" {
		t.Errorf("Query(pipeline, 2) = %+v", got)
	}
	if got := rb.Query("api", 0); len(got) != 3 || got[0].Message != "m1" {
		t.Errorf("Query(api, 0) = %+v", got)
	}
	if got := rb.Query("missing", 0); len(got) != 0 {
		t.Errorf("Query(missing) = %+v", got)
	}
}

func TestBufferHandler_ModuleAndGroups(t *testing.T) {
	mutex.Lock()
	old := logBuffer
	logBuffer = NewRingBuffer(4)
	mutex.Unlock()
	t.Cleanup(func() {
		mutex.Lock()
		logBuffer = old
		mutex.Unlock()
	})

	logger := slog.New(NewBufferHandler(slog.LevelInfo)).With("module", "sequencer", "pipeline", "main")
	logger.WithGroup("packet").Info("Packet submitted", "seq", 3, "err", errors.New("late"))
	logger.Debug("filtered")

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "sequencer" || e.Level != "info" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attributes["pipeline"] != "main" || e.Attributes["packet.seq"] != int64(3) || e.Attributes["packet.err"] != "late" {
		t.Errorf("attributes = %+v", e.Attributes)
	}
	if _, ok := e.Attributes["module"]; ok {
		t.Error("module leaked into attributes")
	}
}
