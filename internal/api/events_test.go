package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/scanout/internal/events"
)

func TestForward_DropsWhenFull(t *testing.T) {
	ch := make(chan any, 1)
	handler := forward[events.SequencerTimeoutEvent](ch)

	handler(events.SequencerTimeoutEvent{Pipeline: "main", PacketSeq: 1})
	handler(events.SequencerTimeoutEvent{Pipeline: "main", PacketSeq: 2})

	if len(ch) != 1 {
		t.Fatalf("queued = %d, want 1", len(ch))
	}
	if e := (<-ch).(events.SequencerTimeoutEvent); e.PacketSeq != 1 {
		t.Errorf("kept packet %d, want the first", e.PacketSeq)
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, Options{})
	bus := ts.server.eventBus

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The handler subscribes after the request arrives, so keep publishing
	// until the stream delivers one.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.Publish(events.CommitCompletedEvent{Pipeline: "main", Token: "tok-1", Status: "presented"})
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: commit-completed" {
			sawEvent = true
			continue
		}
		if sawEvent && strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, `"token":"tok-1"`) {
				t.Errorf("data = %s", line)
			}
			return
		}
	}
	t.Fatalf("stream ended without a commit-completed event: %v", scanner.Err())
}
