// Package headerprofile implements C3, the Header Profiler: it learns the
// stable, non-auth, non-protocol headers a replayer should resend for a
// domain, and resolves the effective header set for a given replay step
// (spec.md §4.3).
package headerprofile

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/authextract"
	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/expr"
)

// Mode selects which header categories resolveHeaders layers in, since a
// Node-style HTTP client and a browser-driven one disagree about who should
// own context headers like user-agent (spec.md §4.3).
type Mode string

const (
	ModeNode    Mode = "node"
	ModeBrowser Mode = "browser"
)

var protocolHeaders = map[string]struct{}{
	"host": {}, "connection": {}, "content-length": {}, "transfer-encoding": {},
	"te": {}, "upgrade": {}, "expect": {},
}

var browserHeaders = map[string]struct{}{
	"accept-encoding": {}, "upgrade-insecure-requests": {}, "dnt": {},
}

var contextHeaders = map[string]struct{}{
	"accept": {}, "accept-language": {}, "user-agent": {}, "referer": {}, "origin": {},
}

// Classify assigns a header name (case-insensitive) to one of the five
// closed categories, first match wins: protocol, auth, browser, context,
// app (spec.md §4.3).
func Classify(name string) apidata.HeaderCategory {
	lc := strings.ToLower(name)
	if strings.HasPrefix(lc, ":") {
		return apidata.CategoryProtocol
	}
	if _, ok := protocolHeaders[lc]; ok {
		return apidata.CategoryProtocol
	}
	if authextract.IsAuthHeaderName(lc) {
		return apidata.CategoryAuth
	}
	if strings.HasPrefix(lc, "sec-") {
		return apidata.CategoryBrowser
	}
	if _, ok := browserHeaders[lc]; ok {
		return apidata.CategoryBrowser
	}
	if _, ok := contextHeaders[lc]; ok {
		return apidata.CategoryContext
	}
	return apidata.CategoryApp
}

// CategoryOverrides lets an operator override header categorization with a
// CEL predicate per category, evaluated over header.name/header.lower
// (SPEC_FULL.md DOMAIN STACK). Categories with no configured predicate fall
// back to Classify's curated literal-list rules.
type CategoryOverrides struct {
	programs map[apidata.HeaderCategory]expr.Program
}

var categoryPriority = []apidata.HeaderCategory{
	apidata.CategoryProtocol, apidata.CategoryAuth, apidata.CategoryBrowser, apidata.CategoryContext, apidata.CategoryApp,
}

// NewCategoryOverrides compiles one CEL predicate per category named in
// exprs; categories absent from exprs keep Classify's default behavior.
func NewCategoryOverrides(exprs map[apidata.HeaderCategory]string) (*CategoryOverrides, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("headerprofile: build CEL environment: %w", err)
	}
	programs := make(map[apidata.HeaderCategory]expr.Program, len(exprs))
	for cat, src := range exprs {
		if strings.TrimSpace(src) == "" {
			continue
		}
		p, err := env.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("headerprofile: compile %s override: %w", cat, err)
		}
		programs[cat] = p
	}
	return &CategoryOverrides{programs: programs}, nil
}

// ClassifyWith applies any configured CategoryOverrides, in the category's
// normal priority order, before falling back to Classify.
func ClassifyWith(name string, overrides *CategoryOverrides) apidata.HeaderCategory {
	if overrides != nil {
		vars := expr.HeaderContext(name)
		for _, cat := range categoryPriority {
			prog, ok := overrides.programs[cat]
			if !ok {
				continue
			}
			if matched, err := prog.EvalBool(vars); err == nil && matched {
				return cat
			}
		}
	}
	return Classify(name)
}

// Options tunes profile construction.
type Options struct {
	// AppFrequencyThreshold is the fraction (0-1] of a domain's requests an
	// "app" category header must appear on to be considered stable enough
	// to resend. Browser/context headers are always recorded regardless of
	// frequency since they describe the client itself.
	AppFrequencyThreshold float64
	// CategoryOverrides optionally overrides header categorization with
	// operator-supplied CEL predicates.
	CategoryOverrides *CategoryOverrides
}

// DefaultOptions matches spec.md §4.3's "frequency >= threshold" wording
// with a conservative majority threshold.
func DefaultOptions() Options {
	return Options{AppFrequencyThreshold: 0.5}
}

type headerStats struct {
	original string
	counts   map[string]int // value -> occurrences, to pick the most common one
	seen     int
}

// BuildProfile learns a HeaderProfile from a set of normalized capture
// exchanges, grouping by the request's domain.
func BuildProfile(exchanges []capture.Exchange, opts *Options) *apidata.HeaderProfile {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	domainRequests := make(map[string]int)
	domainHeaderStats := make(map[string]map[string]*headerStats)
	var domainOrder []string

	for _, ex := range exchanges {
		domain := hostOf(ex.Request.URL)
		if domain == "" {
			continue
		}
		if _, ok := domainRequests[domain]; !ok {
			domainOrder = append(domainOrder, domain)
			domainHeaderStats[domain] = make(map[string]*headerStats)
		}
		domainRequests[domain]++

		for lc, value := range ex.Request.Headers {
			stats, ok := domainHeaderStats[domain][lc]
			if !ok {
				stats = &headerStats{original: ex.Request.HeaderNames[lc], counts: make(map[string]int)}
				domainHeaderStats[domain][lc] = stats
			}
			stats.seen++
			stats.counts[value]++
		}
	}

	profile := &apidata.HeaderProfile{
		Domains:           make(map[string]apidata.DomainProfile),
		EndpointOverrides: make(map[string]map[string]string),
	}

	for _, domain := range domainOrder {
		total := domainRequests[domain]
		common := make(map[string]apidata.ObservedHeader)
		for lc, stats := range domainHeaderStats[domain] {
			category := ClassifyWith(lc, o.CategoryOverrides)
			switch category {
			case apidata.CategoryApp:
				freq := float64(stats.seen) / float64(total)
				if freq < o.AppFrequencyThreshold {
					continue
				}
			case apidata.CategoryBrowser, apidata.CategoryContext:
				// always recorded
			default:
				continue // auth and protocol headers are never part of the profile
			}
			common[lc] = apidata.ObservedHeader{
				OriginalName: stats.original,
				Value:        mostCommonValue(stats.counts),
				Category:     category,
				SeenCount:    stats.seen,
			}
		}
		profile.Domains[domain] = apidata.DomainProfile{
			CommonHeaders: common,
			RequestCount:  total,
			CapturedAt:    time.Now(),
		}
	}
	return profile
}

func mostCommonValue(counts map[string]int) string {
	var best string
	bestCount := -1
	for _, v := range sortedStringKeys(counts) {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func sortedStringKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// SetEndpointOverride records a header override for a specific "METHOD
// /path" replay step.
func SetEndpointOverride(profile *apidata.HeaderProfile, method, path, header, value string) {
	if profile.EndpointOverrides == nil {
		profile.EndpointOverrides = make(map[string]map[string]string)
	}
	key := endpointKey(method, path)
	if profile.EndpointOverrides[key] == nil {
		profile.EndpointOverrides[key] = make(map[string]string)
	}
	profile.EndpointOverrides[key][header] = value
}

func endpointKey(method, path string) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(method), path)
}

// ResolveHeaders produces the effective header map for a replay step per
// the 5-step algorithm in spec.md §4.3. The returned map is keyed by the
// header's original display casing.
func ResolveHeaders(profile *apidata.HeaderProfile, domain, method, path string, authHeaders, cookies map[string]string, mode Mode) map[string]string {
	out := make(map[string]string)

	if profile != nil {
		if dp, ok := profile.Domains[domain]; ok {
			for _, h := range dp.CommonHeaders {
				if h.Category != apidata.CategoryApp {
					continue
				}
				out[h.OriginalName] = h.Value
			}
			if mode == ModeBrowser {
				for _, h := range dp.CommonHeaders {
					if h.Category != apidata.CategoryContext {
						continue
					}
					out[h.OriginalName] = h.Value
				}
			}
		}
		if overrides, ok := profile.EndpointOverrides[endpointKey(method, path)]; ok {
			for name, value := range overrides {
				out[name] = value
			}
		}
	}

	for name, value := range authHeaders {
		out[name] = value
	}

	if len(cookies) > 0 {
		names := make([]string, 0, len(cookies))
		for name := range cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+cookies[name])
		}
		out["Cookie"] = strings.Join(parts, "; ")
	}

	return out
}
