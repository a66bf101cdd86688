// Package probe implements C11, the Endpoint Prober: given an ApiData with
// known endpoints, it generates speculative follow-on requests (CRUD
// completion, sub-resources, collection operations, doc paths, version
// neighbors, health checks) and classifies their responses for "real
// endpoint" signal (spec.md §4.11).
package probe

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/expr"
)

// Probe is one speculative request to try.
type Probe struct {
	Method string
	URL    string
	Reason string
}

// Result is the outcome of executing one Probe.
type Result struct {
	Probe      Probe
	Status     int
	BodyLen    int
	Discovered bool
	Err        error
}

// Transport sends a probe request and returns its status, body text, and
// content type. It never retries; that is a caller concern.
type Transport func(ctx context.Context, method, url string) (status int, body string, contentType string, err error)

// Options configures GenerateProbes and RunProbes.
type Options struct {
	MaxProbes   int            // default 50 (spec.md §5)
	Concurrency int            // default 3 (spec.md §5)
	ScoreExpr   string         // optional CEL predicate over probe.* (DOMAIN STACK); empty uses the built-in rule
	hybrid      *expr.HybridEvaluator
}

func DefaultOptions() Options {
	return Options{MaxProbes: 50, Concurrency: 3}
}

// WithScorer attaches a CEL/template hybrid evaluator so ScoreExpr can
// override the built-in classification rule.
func (o Options) WithScorer(h *expr.HybridEvaluator) Options {
	o.hybrid = h
	return o
}

var idLikeSegment = regexp.MustCompile(`^(\d+|[0-9a-fA-F-]{8,})$`)

var subResources = []string{"comments", "attachments", "history", "items", "settings", "status"}
var collectionOps = []string{"search", "count", "export", "bulk", "batch"}
var crudMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}
var versionRx = regexp.MustCompile(`^v(\d+)$`)

// GenerateProbes builds the speculative probe set for an ApiData, capped at
// opts.MaxProbes (spec.md §4.11, §5).
func GenerateProbes(data apidata.ApiData, opts Options) []Probe {
	if opts.MaxProbes <= 0 {
		opts.MaxProbes = 50
	}

	seen := make(map[string]bool)
	var probes []Probe
	add := func(method, url, reason string) {
		key := method + " " + url
		if seen[key] || len(probes) >= opts.MaxProbes {
			return
		}
		seen[key] = true
		probes = append(probes, Probe{Method: method, URL: url, Reason: reason})
	}

	for _, key := range sortedEndpointKeys(data.Endpoints) {
		reqs := data.Endpoints[key]
		if len(reqs) == 0 {
			continue
		}
		base := endpointBaseURL(reqs[0])
		if base == "" {
			continue
		}
		observedMethods := observedMethodSet(reqs)

		for _, m := range crudMethods {
			if !observedMethods[m] {
				add(m, base, "crud completion: "+m+" not observed on this resource")
			}
		}

		if hasIDSegment(reqs[0].Path) {
			for _, sub := range subResources {
				add("GET", strings.TrimRight(base, "/")+"/"+sub, "sub-resource of parameter-terminated path")
			}
		}

		for _, op := range collectionOps {
			add("GET", collectionBase(base)+"/"+op, "collection operation "+op)
		}

		add("GET", collectionBase(base)+"/me", "user/account endpoint")

		if m := versionRx.FindStringSubmatch(versionSegment(base)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				add("GET", replaceVersionSegment(base, "v"+strconv.Itoa(n+1)), "version neighbor")
			}
		}
	}

	if root := schemeQualifiedRoot(data); root != "" {
		add("GET", root+"/health", "health/status endpoint")
		add("GET", root+"/status", "health/status endpoint")
		add("GET", root+"/openapi.json", "api documentation path")
		add("GET", root+"/swagger.json", "api documentation path")
	}

	return probes
}

// RunProbes executes probes against transport with bounded concurrency
// (default 3), classifying each response as "discovered" when status is
// 2xx AND the body is non-empty, non-trivial, non-HTML, and either
// parseable JSON with content or substantial text (spec.md §4.11).
func RunProbes(ctx context.Context, probes []Probe, transport Transport, opts Options) []Result {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	results := make([]Result, len(probes))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, p := range probes {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p Probe) {
			defer wg.Done()
			defer func() { <-sem }()
			status, body, contentType, err := transport(ctx, p.Method, p.URL)
			if err != nil {
				results[i] = Result{Probe: p, Err: err}
				return
			}
			results[i] = Result{
				Probe:      p,
				Status:     status,
				BodyLen:    len(body),
				Discovered: classify(status, body, contentType, opts),
			}
		}(i, p)
	}
	wg.Wait()
	return results
}

var trivialBodies = map[string]bool{"ok": true, "true": true, "null": true, "{}": true, "[]": true}

func classify(status int, body, contentType string, opts Options) bool {
	if opts.hybrid != nil && strings.TrimSpace(opts.ScoreExpr) != "" {
		bodyIsTrivial := isTrivialBody(body)
		vars := expr.ProbeContext(status, len(body), contentType, bodyIsTrivial)
		if v, err := opts.hybrid.Evaluate(opts.ScoreExpr, vars); err == nil {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return defaultClassify(status, body, contentType)
}

func defaultClassify(status int, body, contentType string) bool {
	if status < 200 || status >= 300 {
		return false
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || isTrivialBody(trimmed) {
		return false
	}
	if looksHTML(trimmed) {
		return false
	}
	var parsed any
	if json.Unmarshal([]byte(trimmed), &parsed) == nil {
		switch v := parsed.(type) {
		case map[string]any:
			return len(v) > 0
		case []any:
			return len(v) > 0
		default:
			return len(trimmed) > 20
		}
	}
	return len(trimmed) > 20
}

func isTrivialBody(body string) bool {
	return trivialBodies[strings.ToLower(strings.TrimSpace(body))]
}

func looksHTML(body string) bool {
	lower := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

func sortedEndpointKeys(m map[string][]apidata.ParsedRequest) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func observedMethodSet(reqs []apidata.ParsedRequest) map[string]bool {
	out := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		out[strings.ToUpper(r.Method)] = true
	}
	return out
}

func endpointBaseURL(r apidata.ParsedRequest) string {
	return r.URL
}

// schemeQualifiedRoot resolves data.BaseURL (a bare host, per C2) into a
// scheme-qualified root URL by borrowing the scheme of any observed
// endpoint on that host; https is assumed if none is found.
func schemeQualifiedRoot(data apidata.ApiData) string {
	if data.BaseURL == "" {
		return ""
	}
	scheme := "https"
	for _, reqs := range data.Endpoints {
		for _, r := range reqs {
			if r.Domain != data.BaseURL {
				continue
			}
			if idx := strings.Index(r.URL, "://"); idx > 0 {
				scheme = r.URL[:idx]
			}
		}
	}
	return strings.TrimRight(scheme+"://"+data.BaseURL, "/")
}

func hasIDSegment(path string) bool {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return false
	}
	return idLikeSegment.MatchString(segments[len(segments)-1])
}

// collectionBase strips a trailing id-like path segment, if present, so
// collection-scoped probes (search, count, /me) attach to the resource
// root rather than one specific item.
func collectionBase(url string) string {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	last := trimmed[idx+1:]
	if idLikeSegment.MatchString(last) {
		return trimmed[:idx]
	}
	return trimmed
}

func versionSegment(url string) string {
	segments := strings.Split(strings.Trim(url, "/"), "/")
	for _, s := range segments {
		if versionRx.MatchString(s) {
			return s
		}
	}
	return ""
}

func replaceVersionSegment(url, newSeg string) string {
	cur := versionSegment(url)
	if cur == "" {
		return url
	}
	return strings.Replace(url, "/"+cur+"/", "/"+newSeg+"/", 1)
}
