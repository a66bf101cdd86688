// Package capture normalizes raw HAR entries into CapturedExchange records:
// a stable-indexed, case-normalized, bounded-body view of a request/response
// pair (spec.md §4.6, C6 "Capture Session Materializer").
package capture

import (
	"net/url"
	"sort"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/har"
	"github.com/unbrowse-ai/harskill/internal/schema"
)

// BodyFormat tags how a captured body was detected and parsed.
type BodyFormat string

const (
	FormatJSON    BodyFormat = "json"
	FormatForm    BodyFormat = "form"
	FormatText    BodyFormat = "text"
	FormatUnknown BodyFormat = "unknown"
)

// Bag is the normalized view shared by the request and response side of an
// exchange.
type Bag struct {
	Headers     map[string]string // lowercase name -> last value
	HeaderNames map[string]string // lowercase name -> original casing
	Cookies     map[string]string // request only; empty for responses
	Query       map[string]string // request only; empty for responses
	Body        any               // parsed JSON value or form map, if any
	BodyRaw     string            // bounded raw text
	BodyFormat  BodyFormat
	Status      int    // response only
	Method      string // request only
	URL         string // request only
}

// Exchange is one numbered, normalized request/response pair.
type Exchange struct {
	Index    int
	Request  Bag
	Response Bag
}

// Options bounds per-direction body capture size.
type Options struct {
	MaxRequestBodyChars  int
	MaxResponseBodyChars int
}

// DefaultOptions matches spec.md §4.6's defaults.
func DefaultOptions() Options {
	return Options{MaxRequestBodyChars: 100_000, MaxResponseBodyChars: 100_000}
}

// HarEntriesToCapturedExchanges converts time-sorted HAR entries into
// CapturedExchange records. Per-entry parse failures never abort the
// conversion: the affected exchange simply retains an absent parsed body or
// an empty query map (spec.md §7 ParseBoundary).
func HarEntriesToCapturedExchanges(entries []har.Entry, opts *Options) []Exchange {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	sorted := make([]har.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].TimeMS, sorted[j].TimeMS
		if ti == nil || tj == nil {
			return false
		}
		return *ti < *tj
	})

	out := make([]Exchange, 0, len(sorted))
	for i, e := range sorted {
		out = append(out, Exchange{
			Index:    i,
			Request:  buildRequestBag(e.Request, o.MaxRequestBodyChars),
			Response: buildResponseBag(e.Response, o.MaxResponseBodyChars),
		})
	}
	return out
}

func buildRequestBag(req har.Request, maxChars int) Bag {
	headers, names := normalizeHeaders(req.Headers)
	cookies := make(map[string]string, len(req.Cookies))
	for _, c := range req.Cookies {
		cookies[c.Name] = c.Value
	}

	query := parseQuery(req.URL)
	if len(query) == 0 && len(req.QueryString) > 0 {
		query = make(map[string]string, len(req.QueryString))
		for _, q := range req.QueryString {
			query[q.Name] = q.Value
		}
	}

	bag := Bag{
		Headers:     headers,
		HeaderNames: names,
		Cookies:     cookies,
		Query:       query,
		Method:      req.Method,
		URL:         req.URL,
	}

	contentType := ""
	var bodyText string
	if req.PostData != nil {
		contentType = req.PostData.MimeType
		bodyText = req.PostData.Text
	}
	bag.BodyFormat = detectFormat(contentType, bodyText)
	bag.BodyRaw = truncate(bodyText, maxChars)
	bag.Body = parseBody(bag.BodyFormat, bag.BodyRaw)
	return bag
}

func buildResponseBag(resp har.Response, maxChars int) Bag {
	headers, names := normalizeHeaders(resp.Headers)
	bag := Bag{
		Headers:     headers,
		HeaderNames: names,
		Status:      resp.Status,
	}
	contentType := ""
	var bodyText string
	if resp.Content != nil {
		contentType = resp.Content.MimeType
		bodyText = resp.Content.Text
	}
	bag.BodyFormat = detectFormat(contentType, bodyText)
	bag.BodyRaw = truncate(bodyText, maxChars)
	bag.Body = parseBody(bag.BodyFormat, bag.BodyRaw)
	return bag
}

// normalizeHeaders discards HTTP/2 pseudo-headers (names beginning with ":")
// at ingest per spec.md §3 invariants, keeping the last value seen per name
// and a lowercase->original-casing map (first casing seen) for display
// purposes.
func normalizeHeaders(headers []har.NameValue) (map[string]string, map[string]string) {
	values := make(map[string]string, len(headers))
	names := make(map[string]string, len(headers))
	for _, h := range headers {
		if strings.HasPrefix(h.Name, ":") {
			continue
		}
		lc := strings.ToLower(h.Name)
		values[lc] = h.Value
		if _, seen := names[lc]; !seen {
			names[lc] = h.Name
		}
	}
	return values, names
}

func parseQuery(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	values := u.Query()
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func detectFormat(contentType, body string) BodyFormat {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"), strings.HasSuffix(ct, "+json"):
		return FormatJSON
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		return FormatForm
	case strings.HasPrefix(ct, "text/"), strings.Contains(ct, "xml"):
		return FormatText
	default:
		if body == "" {
			return FormatUnknown
		}
		return FormatUnknown
	}
}

func parseBody(format BodyFormat, raw string) any {
	switch format {
	case FormatJSON:
		return schema.SafeParseJSON(raw)
	case FormatForm:
		return parseForm(raw)
	default:
		return nil
	}
}

func parseForm(raw string) any {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}
