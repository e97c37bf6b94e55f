package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCounters(t *testing.T) {
	const name = "metrics-test-counters"
	DeletePipeline(name)
	defer DeletePipeline(name)

	ObserveVblank(name)
	ObserveVblank(name)
	ObserveFlush(name, "offload")
	ObserveSequencerTimeout(name)
	ObservePacketCompleted(name, true)
	ObservePacketCompleted(name, false)
	ObserveEventFinalized(name, "presented")
	ObserveEventDropped(name)

	if got := testutil.ToFloat64(vblanks.WithLabelValues(name)); got != 2 {
		t.Errorf("vblanks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(flushes.WithLabelValues(name, "offload")); got != 1 {
		t.Errorf("flushes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sequencerTimeouts.WithLabelValues(name)); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(packetsCompleted.WithLabelValues(name, "error")); got != 1 {
		t.Errorf("error completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(eventsDropped.WithLabelValues(name)); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	const name = "metrics-test-gauges"
	defer DeletePipeline(name)

	SetEnabled(name, true)
	SetPendingLayers(name, 3)

	if got := testutil.ToFloat64(enabled.WithLabelValues(name)); got != 1 {
		t.Errorf("enabled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pendingLayers.WithLabelValues(name)); got != 3 {
		t.Errorf("pending layers = %v, want 3", got)
	}

	SetEnabled(name, false)
	if got := testutil.ToFloat64(enabled.WithLabelValues(name)); got != 0 {
		t.Errorf("enabled = %v, want 0", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	const name = "metrics-test-handler"
	defer DeletePipeline(name)
	ObserveVblank(name)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scanout_pipeline_vblanks_total") {
		t.Error("vblank counter missing from exposition")
	}
}
