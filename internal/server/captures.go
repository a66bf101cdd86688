package server

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/correlation"
	"github.com/unbrowse-ai/harskill/internal/credentialstore"
	"github.com/unbrowse-ai/harskill/internal/harparse"
	"github.com/unbrowse-ai/harskill/internal/headerprofile"
	"github.com/unbrowse-ai/harskill/internal/metrics"
	"github.com/unbrowse-ai/harskill/internal/pipeline"
	"github.com/unbrowse-ai/harskill/internal/probe"
	"github.com/unbrowse-ai/harskill/internal/replay"
)

// storedCapture is one ingested HAR's materialized state, kept in memory
// for as long as the capture service is running.
type storedCapture struct {
	ID       string
	ApiData  apidata.ApiData
	Graph    correlation.Graph
	Captures []capture.Exchange
}

// CaptureService is the business-logic facade the HTTP router dispatches
// to: ingest a HAR capture, inspect its correlation graph, and replay a
// target request through its prerequisite chain (spec.md §4.12, C12).
type CaptureService struct {
	logger         *slog.Logger
	metrics        *metrics.Recorder
	creds          credentialstore.Store
	transport      replay.Transport
	probeTransport probe.Transport
	probeOpts      probe.Options
	headerProfile  *headerprofile.Options
	filterRules    *harparse.Rules

	mu       sync.RWMutex
	captures map[string]storedCapture
}

// NewCaptureService wires a CaptureService. transport drives replayed
// requests; pass nil in tests that only exercise ingest/graph.
func NewCaptureService(logger *slog.Logger, recorder *metrics.Recorder, creds credentialstore.Store, transport replay.Transport) *CaptureService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureService{
		logger:    logger.With(slog.String("agent", "captures")),
		metrics:   recorder,
		creds:     creds,
		transport: transport,
		probeOpts: probe.DefaultOptions(),
		captures:  make(map[string]storedCapture),
	}
}

// WithProbing attaches the transport and options C11's Endpoint Prober
// uses for speculative discovery requests (spec.md §4.11).
func (s *CaptureService) WithProbing(transport probe.Transport, opts probe.Options) *CaptureService {
	s.probeTransport = transport
	s.probeOpts = opts
	return s
}

// WithHeaderProfile attaches C3's header profiler tuning so every Ingest
// call applies it unless the caller supplies its own.
func (s *CaptureService) WithHeaderProfile(opts headerprofile.Options) *CaptureService {
	s.headerProfile = &opts
	return s
}

// WithFilterRules attaches the operator-extended C2 filter/extraction lists
// (internal/config.FilterRulesConfig) so every Ingest call applies them
// unless the caller supplies its own FilterRules.
func (s *CaptureService) WithFilterRules(rules harparse.Rules) *CaptureService {
	s.filterRules = &rules
	return s
}

// Ingest runs a raw HAR document through C1–C8 (pipeline.IngestHar),
// assigns it a capture ID derived from its content, stores the harvested
// credentials under that ID, and keeps the result available for Graph and
// Replay calls.
func (s *CaptureService) Ingest(ctx context.Context, raw []byte, seedURL string, opts pipeline.IngestOptions) (string, pipeline.IngestResult, error) {
	if opts.HeaderProfile == nil {
		opts.HeaderProfile = s.headerProfile
	}
	if opts.FilterRules == nil {
		opts.FilterRules = s.filterRules
	}

	start := time.Now()
	result, err := pipeline.IngestHar(raw, seedURL, opts)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveIngestEntry("captures", "filtered-invalid")
		}
		return "", pipeline.IngestResult{}, fmt.Errorf("server: ingest capture: %w", err)
	}

	id := contentID(raw)

	s.mu.Lock()
	s.captures[id] = storedCapture{ID: id, ApiData: result.ApiData, Graph: result.Graph, Captures: result.Captures}
	s.mu.Unlock()

	if s.creds != nil && result.ApiData.AuthInfo != nil {
		key := credentialstore.Key(id, result.ApiData.Service)
		if existing, ok, err := s.creds.Lookup(ctx, key); err == nil && ok && !existing.IsStale(time.Now().UTC()) {
			s.logger.Debug("credential still fresh, skipping re-store", slog.String("capture", id))
		} else {
			entry := credentialstore.Entry{
				Credential: credentialstore.Credential{
					AuthMethod: result.ApiData.AuthInfo.AuthMethod,
					Headers:    result.ApiData.AuthHeaders,
					Cookies:    result.ApiData.Cookies,
					Notes:      result.ApiData.AuthInfo.Notes,
				},
				StoredAt: time.Now().UTC(),
			}
			entry.ExpiresAt = entry.StoredAt.Add(time.Hour)
			if err := s.creds.Store(ctx, key, entry); err != nil {
				s.logger.Warn("credential store failed", slog.String("capture", id), slog.Any("error", err))
			}
		}
	}

	if s.metrics != nil {
		for range result.Captures {
			s.metrics.ObserveIngestEntry("captures", "kept")
		}
		s.metrics.ObserveIngest("captures", len(result.Graph.Links), time.Since(start))
	}

	s.logger.Info("capture ingested",
		slog.String("capture", id),
		slog.String("service", result.ApiData.Service),
		slog.Int("requests", len(result.Captures)),
		slog.Int("links", len(result.Graph.Links)))

	return id, result, nil
}

// Graph returns the stored CorrelationGraph for a capture ID.
func (s *CaptureService) Graph(id string) (correlation.Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.captures[id]
	if !ok {
		return correlation.Graph{}, false
	}
	return stored.Graph, true
}

// Exists reports whether a capture ID has been ingested.
func (s *CaptureService) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.captures[id]
	return ok
}

var errNoTransport = errors.New("server: replay transport not configured")

// Replay runs C9+C10 over a stored capture's graph, planning and
// executing the prerequisite chain for targetIndex.
func (s *CaptureService) Replay(ctx context.Context, id string, targetIndex int, opts replay.Options) (pipeline.ReplayResult, error) {
	s.mu.RLock()
	stored, ok := s.captures[id]
	s.mu.RUnlock()
	if !ok {
		return pipeline.ReplayResult{}, fmt.Errorf("server: capture %q not found", id)
	}
	if s.transport == nil {
		return pipeline.ReplayResult{}, errNoTransport
	}

	start := time.Now()
	result, err := pipeline.Replay(ctx, stored.Captures, stored.Graph, targetIndex, s.transport, opts)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveReplayStep(id, false, time.Since(start))
		}
		return pipeline.ReplayResult{}, fmt.Errorf("server: replay: %w", err)
	}

	if s.metrics != nil {
		for _, step := range result.PerStep {
			s.metrics.ObserveReplayStep(id, step.OK, time.Since(start)/time.Duration(max(1, len(result.PerStep))))
		}
	}

	return result, nil
}

var errNoProbeTransport = errors.New("server: probe transport not configured")

// Probe runs C11's speculative discovery requests against a stored
// capture's ApiData (spec.md §4.11).
func (s *CaptureService) Probe(ctx context.Context, id string) ([]probe.Result, error) {
	s.mu.RLock()
	stored, ok := s.captures[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("server: capture %q not found", id)
	}
	if s.probeTransport == nil {
		return nil, errNoProbeTransport
	}

	probes := probe.GenerateProbes(stored.ApiData, s.probeOpts)
	results := probe.RunProbes(ctx, probes, s.probeTransport, s.probeOpts)

	if s.metrics != nil {
		for _, r := range results {
			s.metrics.ObserveProbeResult(id, r.Discovered)
		}
	}
	return results, nil
}

func contentID(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])[:16]
}
