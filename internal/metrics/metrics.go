// Package metrics exposes Prometheus counters for the lip-sync
// pipeline. Everything here is best-effort diagnostics; the animation
// path never depends on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_events_received_total",
		Help: "Viseme events accepted into the pipeline",
	})

	eventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_events_malformed_total",
		Help: "Viseme events dropped for missing fields or unmapped IDs",
	})

	eventsSpeakerFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_events_speaker_filtered_total",
		Help: "Viseme events discarded for a non-matching speaker",
	})

	eventsStaleSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_events_stale_skipped_total",
		Help: "Due events skipped because a newer event was due in the same tick",
	})

	queueEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_queue_evictions_total",
		Help: "Events dropped by overflow eviction",
	})

	ingestDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_ingest_dropped_total",
		Help: "Messages dropped because the ingest handoff channel was full",
	})

	clockResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_clock_resyncs_total",
		Help: "Timing samples accepted from the audio scheduler",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lipsync_queue_depth",
		Help: "Pending viseme events awaiting playback",
	})
)

func RecordEventReceived() { eventsReceived.Inc() }

func RecordMalformedEvent() { eventsMalformed.Inc() }

func RecordSpeakerFiltered() { eventsSpeakerFiltered.Inc() }

func RecordStaleSkipped(n int) { eventsStaleSkipped.Add(float64(n)) }

func RecordEvictions(n int) { queueEvictions.Add(float64(n)) }

func RecordIngestDropped() { ingestDropped.Inc() }

func RecordClockResync() { clockResyncs.Inc() }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// Serve exposes /metrics on addr. Blocks; run it in a goroutine.
func Serve(addr string, logger zerolog.Logger) error {
	log := logger.With().Str("component", "metrics").Logger()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	return http.ListenAndServe(addr, mux)
}
