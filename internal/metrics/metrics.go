// Package metrics publishes Prometheus counters and histograms for the
// harskill pipeline's ingestion, replay, probing, and credential-cache
// activity (SPEC_FULL.md AMBIENT STACK).
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the credential store method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a credential store lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a credential store write.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	ingestEntries      *prometheus.CounterVec
	ingestDuration     *prometheus.HistogramVec
	correlationLinks   *prometheus.HistogramVec
	replaySteps        *prometheus.CounterVec
	replayStepLatency  *prometheus.HistogramVec
	probeResults       *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	ingestEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harskill",
		Subsystem: "ingest",
		Name:      "entries_total",
		Help:      "HAR entries processed during ingestion, labeled by filter outcome.",
	}, []string{"service", "outcome"})

	ingestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harskill",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Latency distribution for a complete HAR ingestion run.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service"})

	correlationLinks := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harskill",
		Subsystem: "correlation",
		Name:      "links_found",
		Help:      "Number of correlation links discovered per ingestion run.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"service"})

	replaySteps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harskill",
		Subsystem: "replay",
		Name:      "steps_total",
		Help:      "Replay chain steps executed, labeled by outcome.",
	}, []string{"service", "outcome"})

	replayStepLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harskill",
		Subsystem: "replay",
		Name:      "step_duration_seconds",
		Help:      "Latency distribution for a single replay chain step.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "outcome"})

	probeResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harskill",
		Subsystem: "probe",
		Name:      "results_total",
		Help:      "Endpoint probes executed, labeled by whether they discovered a real endpoint.",
	}, []string{"service", "discovered"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harskill",
		Subsystem: "credentialstore",
		Name:      "operations_total",
		Help:      "Credential store operations executed by the pipeline.",
	}, []string{"service", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harskill",
		Subsystem: "credentialstore",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for credential store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"service", "operation", "result"})

	reg.MustRegister(
		ingestEntries, ingestDuration, correlationLinks,
		replaySteps, replayStepLatency, probeResults,
		cacheOperations, cacheLatency,
	)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		ingestEntries:     ingestEntries,
		ingestDuration:    ingestDuration,
		correlationLinks:  correlationLinks,
		replaySteps:       replaySteps,
		replayStepLatency: replayStepLatency,
		probeResults:      probeResults,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveIngestEntry records one HAR entry's filter outcome during C2's
// parsing pass (kept|filtered-static|filtered-third-party|filtered-html|
// filtered-invalid).
func (r *Recorder) ObserveIngestEntry(service, outcome string) {
	if r == nil {
		return
	}
	r.ingestEntries.WithLabelValues(normalizeLabel(service), normalizeLabel(outcome)).Inc()
}

// ObserveIngest records the latency and correlation-link count for a
// complete IngestHar run.
func (r *Recorder) ObserveIngest(service string, linkCount int, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(service)
	r.ingestDuration.WithLabelValues(label).Observe(duration.Seconds())
	r.correlationLinks.WithLabelValues(label).Observe(float64(linkCount))
}

// ObserveReplayStep records the outcome and latency of one chain step
// executed by C10's Sequence Executor.
func (r *Recorder) ObserveReplayStep(service string, ok bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcome := "fail"
	if ok {
		outcome = "ok"
	}
	label := normalizeLabel(service)
	r.replaySteps.WithLabelValues(label, outcome).Inc()
	r.replayStepLatency.WithLabelValues(label, outcome).Observe(duration.Seconds())
}

// ObserveProbeResult records one C11 probe's discovery classification.
func (r *Recorder) ObserveProbeResult(service string, discovered bool) {
	if r == nil {
		return
	}
	r.probeResults.WithLabelValues(normalizeLabel(service), strconv.FormatBool(discovered)).Inc()
}

// ObserveCacheLookup records the result of a credential store lookup.
func (r *Recorder) ObserveCacheLookup(service string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(service), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a credential store write.
func (r *Recorder) ObserveCacheStore(service string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(service), CacheOperationStore, resultLabel, duration)
}

func (r *Recorder) observeCache(service string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(service, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(service, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
