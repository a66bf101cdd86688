// Package pipeline implements C12, the Pipeline Orchestrator: composition
// only, wiring C1–C10 into the two end-to-end operations an external
// caller needs — ingesting a capture into an ApiData plus CorrelationGraph,
// and replaying a target through a transport (spec.md §4.12).
package pipeline

import (
	"context"
	"time"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/authextract"
	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/correlation"
	"github.com/unbrowse-ai/harskill/internal/csrf"
	"github.com/unbrowse-ai/harskill/internal/har"
	"github.com/unbrowse-ai/harskill/internal/harparse"
	"github.com/unbrowse-ai/harskill/internal/headerprofile"
	"github.com/unbrowse-ai/harskill/internal/replay"
)

// IngestOptions carries the browser-side inputs a HAR capture alone cannot
// supply (spec.md §4.5), plus the per-stage overrides most callers leave at
// their defaults.
type IngestOptions struct {
	LocalStorage   map[string]string
	SessionStorage map[string]string
	MetaTokens     map[string]string
	OpenApiOps     []harparse.OpenApiOp

	FilterRules   *harparse.Rules
	CaptureOpts   *capture.Options
	HeaderProfile *headerprofile.Options
	Now           func() time.Time
}

// IngestResult bundles everything produced by one HAR ingestion: the ApiData
// artifact (C2+C3+C4+C5) plus the CorrelationGraph (C6+C7+C8) over the same
// capture.
type IngestResult struct {
	ApiData  apidata.ApiData
	Graph    correlation.Graph
	Captures []capture.Exchange
}

// IngestHar runs raw HAR bytes through C2 (HAR Parser), C3 (Header
// Profiler), C4 (Auth Extractor), C5 (CSRF Provenance Engine), C6 (Capture
// Session Materializer), C7 (Correlation Engine), and C8's graph-level
// inputs, returning one IngestResult (spec.md §2 data flow).
func IngestHar(raw []byte, seedURL string, opts IngestOptions) (IngestResult, error) {
	entries, err := har.Parse(raw)
	if err != nil {
		return IngestResult{}, err
	}

	rules := harparse.DefaultRules()
	if opts.FilterRules != nil {
		rules = *opts.FilterRules
	}
	data := harparse.ParseHar(entries, seedURL, rules)
	if len(opts.OpenApiOps) > 0 {
		data = harparse.MergeOpenApiEndpoints(data, opts.OpenApiOps, data.BaseURL)
	}

	captures := capture.HarEntriesToCapturedExchanges(entries, opts.CaptureOpts)

	profile := headerprofile.BuildProfile(captures, opts.HeaderProfile)
	data.HeaderProfile = profile

	authInfo := authextract.GenerateAuthInfo(data.Service, data)
	data.AuthInfo = &authInfo

	prov := csrf.InferCsrfProvenance(csrf.Inputs{
		AuthHeaders:    data.AuthHeaders,
		Cookies:        data.Cookies,
		LocalStorage:   opts.LocalStorage,
		SessionStorage: opts.SessionStorage,
		MetaTokens:     opts.MetaTokens,
		AuthInfo:       data.RawAuthInfo,
	})
	data.CsrfProvenance = prov

	graph := correlation.InferCorrelationGraphV1(captures, opts.Now)

	return IngestResult{ApiData: data, Graph: graph, Captures: captures}, nil
}

// ReplayResult is what one replay.ExecuteChainForTarget run produces,
// re-exported under the pipeline's own vocabulary.
type ReplayResult struct {
	Chain          []int
	Final          *replay.RuntimeResponse
	PerStep        []replay.StepResult
	SessionHeaders map[string]string
}

// Replay runs C9+C10 (Request Preparer, Sequence Executor) over one ingested
// capture's CorrelationGraph, planning and executing the prerequisite chain
// for targetIndex through transport (spec.md §4.9, §4.10).
func Replay(ctx context.Context, captures []capture.Exchange, graph correlation.Graph, targetIndex int, transport replay.Transport, opts replay.Options) (ReplayResult, error) {
	chain, final, perStep, sessionHeaders, err := replay.ExecuteChainForTarget(ctx, captures, graph, targetIndex, transport, opts)
	if err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{Chain: chain, Final: final, PerStep: perStep, SessionHeaders: sessionHeaders}, nil
}
