// Package csrf implements C5, the CSRF Provenance Engine: it figures out
// which client-side storage location a CSRF token was copied from before
// being sent as a header, so a replayer can regenerate it (spec.md §4.5).
package csrf

import (
	"sort"
	"strings"
	"time"

	"github.com/unbrowse-ai/harskill/internal/apidata"
)

// Inputs bundles the carriers a CSRF value may have been copied from.
type Inputs struct {
	AuthHeaders    map[string]string
	Cookies        map[string]string
	LocalStorage   map[string]string
	SessionStorage map[string]string
	MetaTokens     map[string]string
	AuthInfo       map[string]string // apidata.ApiData.RawAuthInfo, keys like "request_header_x-csrf-token"
	Existing       *apidata.CsrfProvenance
}

const rawAuthInfoHeaderPrefix = "request_header_"

// InferCsrfProvenance locates CSRF/XSRF-named auth headers and infers where
// their value was copied from, per spec.md §4.5. If no candidate header is
// found it returns in.Existing unchanged (nil when none was supplied).
func InferCsrfProvenance(in Inputs) *apidata.CsrfProvenance {
	candidates := csrfCandidateHeaders(in.AuthHeaders)
	if len(candidates) == 0 {
		candidates = csrfCandidatesFromAuthInfo(in.AuthInfo)
	}
	if len(candidates) == 0 {
		return in.Existing
	}

	rules := make(map[string]apidata.CsrfRule)
	if in.Existing != nil {
		for _, r := range in.Existing.Rules {
			rules[r.TargetHeader] = r
		}
	}

	now := time.Now()
	for _, name := range sortedNames(candidates) {
		value := candidates[name]
		rule := inferOneRule(strings.ToLower(name), value, in, now)
		if existing, ok := rules[rule.TargetHeader]; ok {
			if !shouldReplace(existing, rule) {
				continue
			}
		}
		rules[rule.TargetHeader] = rule
	}

	out := &apidata.CsrfProvenance{Rules: make([]apidata.CsrfRule, 0, len(rules))}
	for _, name := range sortedRuleNames(rules) {
		out.Rules = append(out.Rules, rules[name])
	}
	return out
}

// shouldReplace keeps the existing rule unless the new one has strictly
// higher confidence, with the exception that a header-sourced rule is
// always overwritable by a stronger carrier even at equal confidence.
func shouldReplace(existing, incoming apidata.CsrfRule) bool {
	if incoming.Confidence > existing.Confidence {
		return true
	}
	if incoming.Confidence == existing.Confidence && existing.SourceType == apidata.SourceHeader && incoming.SourceType != apidata.SourceHeader {
		return true
	}
	return false
}

func inferOneRule(headerName, value string, in Inputs, now time.Time) apidata.CsrfRule {
	trimmed := strings.TrimSpace(value)

	if key, ok := findExact(in.Cookies, trimmed); ok {
		return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceCookie, SourceKey: key, Confidence: 0.95, ObservedAt: now}
	}
	if key, ok := findExact(in.LocalStorage, trimmed); ok {
		return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceLocalStorage, SourceKey: key, Confidence: 0.9, ObservedAt: now}
	}
	if key, ok := findExact(in.SessionStorage, trimmed); ok {
		return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceSessionStorage, SourceKey: key, Confidence: 0.9, ObservedAt: now}
	}
	if key, ok := findExact(in.MetaTokens, trimmed); ok {
		return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceMeta, SourceKey: key, Confidence: 0.9, ObservedAt: now}
	}
	// Search other headers for the same value before falling back.
	for _, otherName := range sortedNames(in.AuthHeaders) {
		if strings.EqualFold(otherName, headerName) {
			continue
		}
		if strings.TrimSpace(in.AuthHeaders[otherName]) == trimmed {
			return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceHeader, SourceKey: strings.ToLower(otherName), Confidence: 0.7, ObservedAt: now}
		}
	}
	return apidata.CsrfRule{TargetHeader: headerName, SourceType: apidata.SourceHeader, SourceKey: headerName, Confidence: 0.5, ObservedAt: now}
}

func findExact(carrier map[string]string, trimmedValue string) (string, bool) {
	for _, key := range sortedNames(carrier) {
		if strings.TrimSpace(carrier[key]) == trimmedValue {
			return key, true
		}
	}
	return "", false
}

func csrfCandidateHeaders(authHeaders map[string]string) map[string]string {
	out := make(map[string]string)
	for name, value := range authHeaders {
		lc := strings.ToLower(name)
		if strings.Contains(lc, "csrf") || strings.Contains(lc, "xsrf") {
			out[name] = value
		}
	}
	return out
}

func csrfCandidatesFromAuthInfo(authInfo map[string]string) map[string]string {
	out := make(map[string]string)
	for key, value := range authInfo {
		if !strings.HasPrefix(key, rawAuthInfoHeaderPrefix) {
			continue
		}
		residual := strings.ToLower(strings.TrimPrefix(key, rawAuthInfoHeaderPrefix))
		if strings.Contains(residual, "csrf") || strings.Contains(residual, "xsrf") {
			out[residual] = value
		}
	}
	return out
}

// ApplyCsrfProvenance reads each rule's declared carrier and overwrites the
// target header in a copy of authHeaders, recording each application as
// "<target>⇐<sourceType>:<sourceKey>" (spec.md §4.5).
func ApplyCsrfProvenance(authHeaders, cookies, localStorage, sessionStorage, metaTokens map[string]string, prov *apidata.CsrfProvenance) (map[string]string, []string) {
	out := make(map[string]string, len(authHeaders))
	for k, v := range authHeaders {
		out[k] = v
	}
	if prov == nil {
		return out, nil
	}

	applied := make([]string, 0, len(prov.Rules))
	for _, rule := range prov.Rules {
		var carrier map[string]string
		switch rule.SourceType {
		case apidata.SourceCookie:
			carrier = cookies
		case apidata.SourceLocalStorage:
			carrier = localStorage
		case apidata.SourceSessionStorage:
			carrier = sessionStorage
		case apidata.SourceMeta:
			carrier = metaTokens
		case apidata.SourceHeader:
			carrier = authHeaders
		}
		value, ok := carrier[rule.SourceKey]
		if !ok {
			continue
		}
		out[rule.TargetHeader] = value
		applied = append(applied, rule.TargetHeader+"⇐"+string(rule.SourceType)+":"+rule.SourceKey)
	}
	return out, applied
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedRuleNames(m map[string]apidata.CsrfRule) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
