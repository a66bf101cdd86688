// Package replay implements C9, the Request Preparer, and C10, the
// Sequence Executor: turning a planned chain of captured exchanges into
// live requests, injecting correlated values as each step's response
// becomes available (spec.md §4.9, §4.10).
package replay

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/correlation"
	"github.com/unbrowse-ai/harskill/internal/schema"
)

// PreparedRequest is a fully resolved, ready-to-send request for one chain
// step.
type PreparedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// RuntimeResponse is the per-step runtime record kept in runtimeByIndex for
// the duration of one replay.
type RuntimeResponse struct {
	Status      int
	Headers     map[string]string // lowercase name -> value
	BodyText    string
	ContentType string
	BodyJSON    any
}

var strippedRequestHeaders = map[string]struct{}{
	"host": {}, "connection": {}, "content-length": {}, "transfer-encoding": {}, "cookie": {},
}

// PrepareRequestForStep resolves one chain step into a PreparedRequest,
// applying every correlation link that targets stepIndex. It returns
// (nil, false) if stepIndex has no captured exchange (spec.md §4.9).
func PrepareRequestForStep(exchanges []capture.Exchange, graph correlation.Graph, stepIndex int, runtimeByIndex map[int]RuntimeResponse, sessionHeaders map[string]string, bodyOverrideText string) (*PreparedRequest, bool) {
	if stepIndex < 0 || stepIndex >= len(exchanges) {
		return nil, false
	}
	ex := exchanges[stepIndex]

	headers := baseHeaders(ex.Request)
	for name, v := range sessionHeaders {
		headers[name] = v
	}

	reqURL := ex.Request.URL
	body := bodyOverrideText
	if body == "" {
		if ex.Request.BodyRaw != "" {
			body = ex.Request.BodyRaw
		} else if ex.Request.Body != nil {
			if b, err := json.Marshal(ex.Request.Body); err == nil {
				body = string(b)
			}
		}
	}

	for _, l := range graph.Links {
		if l.TargetRequestIndex != stepIndex {
			continue
		}
		value, ok := resolveRuntimeValue(l, runtimeByIndex)
		if !ok {
			continue
		}
		reqURL, body = applyLinkValue(headers, reqURL, body, l, value)
	}

	return &PreparedRequest{Method: ex.Request.Method, URL: reqURL, Headers: headers, Body: body}, true
}

// baseHeaders copies the captured request headers, stripping the
// protocol-owned set (pseudo-headers are already absent from capture.Bag),
// keyed by their original display casing.
func baseHeaders(req capture.Bag) map[string]string {
	out := make(map[string]string, len(req.Headers))
	for lc, v := range req.Headers {
		if _, stripped := strippedRequestHeaders[lc]; stripped {
			continue
		}
		name := req.HeaderNames[lc]
		if name == "" {
			name = lc
		}
		out[name] = v
	}
	return out
}

// resolveRuntimeValue reads the value a link's source node points at from
// the runtime state recorded for a prior step. Only header and body
// sources are supported; anything else is silently skipped (spec.md §4.9).
func resolveRuntimeValue(l correlation.Link, runtimeByIndex map[int]RuntimeResponse) (string, bool) {
	rt, ok := runtimeByIndex[l.SourceRequestIndex]
	if !ok {
		return "", false
	}
	switch l.SourceLocation {
	case correlation.LocationHeader:
		name := strings.ToLower(strings.TrimPrefix(l.SourcePath, "header."))
		v, ok := rt.Headers[name]
		return v, ok
	case correlation.LocationBody:
		bodyVal := rt.BodyJSON
		if bodyVal == nil {
			bodyVal = schema.SafeParseJSON(rt.BodyText)
		}
		return getNestedString(bodyVal, l.SourcePath)
	default:
		return "", false
	}
}

func getNestedString(v any, dotted string) (string, bool) {
	if dotted == "" {
		return "", false
	}
	cur := v
	for _, part := range strings.Split(dotted, ".") {
		next, ok := indexInto(cur, part)
		if !ok {
			return "", false
		}
		cur = next
	}
	s, ok := cur.(string)
	return s, ok
}

// indexInto resolves one dotted path segment against a JSON-decoded value:
// a key against map[string]any, or a numeric segment against []any
// (schema.Walk's array-sampled paths, spec.md §4.7).
func indexInto(v any, part string) (any, bool) {
	switch vv := v.(type) {
	case map[string]any:
		next, ok := vv[part]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 || idx >= len(vv) {
			return nil, false
		}
		return vv[idx], true
	default:
		return nil, false
	}
}

// applyLinkValue injects a resolved value into the target location named
// by the link, returning the possibly-updated URL and body text.
func applyLinkValue(headers map[string]string, reqURL, body string, l correlation.Link, value string) (string, string) {
	switch l.TargetLocation {
	case correlation.LocationHeader:
		headers[strings.TrimPrefix(l.TargetPath, "header.")] = value
	case correlation.LocationQuery:
		reqURL = applyQueryValue(reqURL, l.TargetPath, value)
	case correlation.LocationBody:
		body = applyBodyValue(body, l.TargetPath, value)
	}
	return reqURL, body
}

func applyQueryValue(rawURL, targetPath, value string) string {
	rest := strings.TrimPrefix(targetPath, "query.")
	if rest == targetPath {
		return rawURL
	}
	parts := strings.SplitN(rest, ".", 2)
	key := parts[0]

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()

	if len(parts) == 1 {
		q.Set(key, value)
		u.RawQuery = q.Encode()
		return u.String()
	}

	existingRaw := q.Get(key)
	if existingRaw == "" {
		existingRaw = "{}"
	}
	obj, ok := schema.SafeParseJSON(existingRaw).(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	setNestedValue(obj, strings.Split(parts[1], "."), value)
	encoded, err := json.Marshal(obj)
	if err != nil {
		return rawURL
	}
	q.Set(key, string(encoded))
	u.RawQuery = q.Encode()
	return u.String()
}

func applyBodyValue(body, targetPath, value string) string {
	rest := strings.TrimPrefix(targetPath, "body.")
	if rest == targetPath {
		return body
	}
	obj, ok := schema.SafeParseJSON(body).(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	setNestedValue(obj, strings.Split(rest, "."), value)
	encoded, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return string(encoded)
}

// setNestedValue writes value along a dotted path under obj, creating
// intermediate maps as needed. A segment naming an existing array index
// descends into that element instead of a map key (schema.Walk's
// array-sampled paths, spec.md §4.7); arrays are indexed in place and never
// created or grown, matching what a captured response could have produced.
func setNestedValue(obj map[string]any, parts []string, value string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		obj[parts[0]] = value
		return
	}
	switch child := obj[parts[0]].(type) {
	case []any:
		setNestedInArray(child, parts[1:], value)
	case map[string]any:
		setNestedValue(child, parts[1:], value)
	default:
		next := map[string]any{}
		obj[parts[0]] = next
		setNestedValue(next, parts[1:], value)
	}
}

func setNestedInArray(arr []any, parts []string, value string) {
	if len(parts) == 0 {
		return
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil || idx < 0 || idx >= len(arr) {
		return
	}
	if len(parts) == 1 {
		arr[idx] = value
		return
	}
	switch child := arr[idx].(type) {
	case []any:
		setNestedInArray(child, parts[1:], value)
	case map[string]any:
		setNestedValue(child, parts[1:], value)
	default:
		next := map[string]any{}
		arr[idx] = next
		setNestedValue(next, parts[1:], value)
	}
}
