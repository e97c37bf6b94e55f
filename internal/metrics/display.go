// Package metrics provides Prometheus metrics for display pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	vblanks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "vblanks_total",
		Help:      "Refresh intervals observed",
	}, []string{"pipeline"})

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "flushes_total",
		Help:      "Configuration flushes by write path",
	}, []string{"pipeline", "path"})

	packetsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "sequencer",
		Name:      "packets_submitted_total",
		Help:      "Packets handed to the sequencer channel",
	}, []string{"pipeline"})

	packetsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "sequencer",
		Name:      "packets_completed_total",
		Help:      "Sequencer completions by result",
	}, []string{"pipeline", "result"})

	sequencerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "sequencer",
		Name:      "timeouts_total",
		Help:      "Packets not completed within the stall budget",
	}, []string{"pipeline"})

	eventsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "events_finalized_total",
		Help:      "Client completion events delivered",
	}, []string{"pipeline", "status"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "events_dropped_total",
		Help:      "Completion event requests refused because one was outstanding",
	}, []string{"pipeline"})

	enabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "enabled",
		Help:      "1 when the pipeline is enabled",
	}, []string{"pipeline"})

	pendingLayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scanout",
		Subsystem: "pipeline",
		Name:      "config_pending_layers",
		Help:      "Layers whose last requested change has not landed in hardware",
	}, []string{"pipeline"})
)

// ObserveVblank counts one refresh tick.
func ObserveVblank(pipeline string) {
	vblanks.WithLabelValues(pipeline).Inc()
}

// ObserveFlush counts one flush on the given write path.
func ObserveFlush(pipeline, path string) {
	flushes.WithLabelValues(pipeline, path).Inc()
}

// ObservePacketSubmitted counts one packet submission.
func ObservePacketSubmitted(pipeline string) {
	packetsSubmitted.WithLabelValues(pipeline).Inc()
}

// ObservePacketCompleted counts one sequencer completion.
func ObservePacketCompleted(pipeline string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	packetsCompleted.WithLabelValues(pipeline, result).Inc()
}

// ObserveSequencerTimeout counts one stall detection.
func ObserveSequencerTimeout(pipeline string) {
	sequencerTimeouts.WithLabelValues(pipeline).Inc()
}

// ObserveEventFinalized counts one delivered completion event.
func ObserveEventFinalized(pipeline, status string) {
	eventsFinalized.WithLabelValues(pipeline, status).Inc()
}

// ObserveEventDropped counts one refused completion event request.
func ObserveEventDropped(pipeline string) {
	eventsDropped.WithLabelValues(pipeline).Inc()
}

// SetEnabled records the enabled state of a pipeline.
func SetEnabled(pipeline string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	enabled.WithLabelValues(pipeline).Set(v)
}

// SetPendingLayers records the number of config-pending layers.
func SetPendingLayers(pipeline string, n int) {
	pendingLayers.WithLabelValues(pipeline).Set(float64(n))
}

// DeletePipeline removes every series of a pipeline.
func DeletePipeline(pipeline string) {
	labels := prometheus.Labels{"pipeline": pipeline}
	vblanks.DeletePartialMatch(labels)
	flushes.DeletePartialMatch(labels)
	packetsSubmitted.DeletePartialMatch(labels)
	packetsCompleted.DeletePartialMatch(labels)
	sequencerTimeouts.DeletePartialMatch(labels)
	eventsFinalized.DeletePartialMatch(labels)
	eventsDropped.DeletePartialMatch(labels)
	enabled.DeletePartialMatch(labels)
	pendingLayers.DeletePartialMatch(labels)
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
