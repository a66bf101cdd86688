// Package harparse implements C2, the HAR Parser: it turns a raw HAR
// capture into the ApiData bundle later components enrich (spec.md §4.2).
package harparse

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/har"
)

var versionSegmentRx = regexp.MustCompile(`^v\d+$`)

// candidate is an accepted-so-far entry, carried between filter passes so
// the API-likeness pass can be applied per domain.
type candidate struct {
	entry   har.Entry
	u       *url.URL
	domain  string
	path    string
	apiLike bool
}

// ParseHar filters a raw capture down to the requests worth keeping and
// extracts the auth/cookie material carried in them. seedURL may be empty.
func ParseHar(entries []har.Entry, seedURL string, rules Rules) apidata.ApiData {
	candidates := make([]candidate, 0, len(entries))

	for _, e := range entries {
		u, err := url.Parse(e.Request.URL)
		if err != nil || u.Host == "" {
			continue // rule 2: invalid URL
		}
		if isStaticAsset(u.Path, rules) {
			continue // rule 1
		}
		if hasAnySuffixLiteral(u.Host, rules.ThirdPartySuffixes) {
			continue // rule 3
		}
		if isHTMLNavigation(e) {
			continue // rule 4
		}
		candidates = append(candidates, candidate{
			entry:   e,
			u:       u,
			domain:  u.Host,
			path:    u.Path,
			apiLike: isAPILike(u, e),
		})
	}

	// Rule 5 (API-likeness) is conditional per target domain: an entry
	// failing it is dropped only when some other entry on the same domain
	// passed it. Domains with no API-like traffic at all keep everything
	// that survived rules 1-4.
	domainHasAPILike := make(map[string]bool)
	for _, c := range candidates {
		if c.apiLike {
			domainHasAPILike[c.domain] = true
		}
	}

	accepted := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if domainHasAPILike[c.domain] && !c.apiLike {
			continue
		}
		accepted = append(accepted, c)
	}

	data := apidata.ApiData{
		AuthHeaders: make(map[string]string),
		Cookies:     make(map[string]string),
		RawAuthInfo: make(map[string]string),
		Endpoints:   make(map[string][]apidata.ParsedRequest),
	}

	domainCounts := make(map[string]int)
	for _, c := range accepted {
		domainCounts[c.domain]++

		contentType := ""
		if ct, ok := har.HeaderValue(c.entry.Response.Headers, "content-type"); ok {
			contentType = ct
		}
		pr := apidata.ParsedRequest{
			Method:      c.entry.Request.Method,
			URL:         c.entry.Request.URL,
			Path:        c.path,
			Domain:      c.domain,
			Status:      c.entry.Response.Status,
			ContentType: contentType,
		}
		key := apidata.EndpointKey(c.domain, c.path)
		data.Endpoints[key] = append(data.Endpoints[key], pr)

		harvestAuth(&data, c.entry, rules)
		harvestCookies(&data, c.entry)
	}

	data.BaseURL = chooseBaseURL(seedURL, domainCounts)
	data.BaseURLs = sortedDomains(domainCounts)
	data.Service = deriveServiceName(data.BaseURL)
	return data
}

func isStaticAsset(path string, rules Rules) bool {
	lower := strings.ToLower(path)
	for _, ext := range rules.StaticExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, prefix := range rules.StaticPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isHTMLNavigation(e har.Entry) bool {
	if e.Request.Method != "" && e.Request.Method != "GET" {
		return false
	}
	accept, _ := har.HeaderValue(e.Request.Headers, "accept")
	if strings.Contains(strings.ToLower(accept), "text/html") {
		return true
	}
	contentType := ""
	if e.Response.Content != nil {
		contentType = e.Response.Content.MimeType
	}
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func isAPILike(u *url.URL, e har.Entry) bool {
	path := strings.ToLower(u.Path)
	switch {
	case strings.Contains(path, "/api/"),
		strings.Contains(path, "/services/"),
		strings.Contains(path, "/graphql"):
		return true
	}
	for _, seg := range strings.Split(path, "/") {
		if versionSegmentRx.MatchString(seg) {
			return true
		}
	}
	switch e.Request.Method {
	case "POST", "PUT", "DELETE", "PATCH":
		return true
	}
	if strings.HasPrefix(strings.ToLower(u.Host), "api.") || strings.Contains(strings.ToLower(u.Host), ".api.") {
		return true
	}
	contentType := ""
	if e.Response.Content != nil {
		contentType = e.Response.Content.MimeType
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json")
}

// harvestAuth records allowlisted headers and x-* headers that are not on
// the browser-noise blocklist into authHeaders/rawAuthInfo (spec.md §4.2).
func harvestAuth(data *apidata.ApiData, e har.Entry, rules Rules) {
	allow := toSet(rules.AuthHeaderAllowlist)
	block := toSet(rules.XHeaderBlocklist)
	for _, h := range e.Request.Headers {
		lc := strings.ToLower(h.Name)
		if strings.HasPrefix(lc, ":") {
			continue
		}
		_, allowed := allow[lc]
		isX := strings.HasPrefix(lc, "x-")
		_, blocked := block[lc]
		if allowed || (isX && !blocked) {
			data.AuthHeaders[lc] = h.Value
			data.RawAuthInfo["request_header_"+lc] = h.Value
		}
	}
}

// harvestCookies captures request cookies verbatim and parses response
// Set-Cookie values by splitting at the first '=' and truncating at the
// first ';' (spec.md §4.2).
func harvestCookies(data *apidata.ApiData, e har.Entry) {
	for _, c := range e.Request.Cookies {
		data.Cookies[c.Name] = c.Value
	}
	for _, h := range e.Response.Headers {
		if !strings.EqualFold(h.Name, "set-cookie") {
			continue
		}
		pair := h.Value
		if i := strings.Index(pair, ";"); i >= 0 {
			pair = pair[:i]
		}
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(pair[:eq])
		value := strings.TrimSpace(pair[eq+1:])
		if name == "" {
			continue
		}
		data.Cookies[name] = value
	}
}

// chooseBaseURL prefers (a) an accepted domain sharing a registrable root
// with the seed host and looking like an API subdomain, then (b) the seed
// host itself, then (c) the most frequently accepted domain.
func chooseBaseURL(seedURL string, domainCounts map[string]int) string {
	var seedHost string
	if seedURL != "" {
		if u, err := url.Parse(seedURL); err == nil {
			seedHost = u.Host
		}
	}

	if seedHost != "" {
		root := registrableRoot(seedHost)
		var best string
		for domain := range domainCounts {
			if domain == seedHost {
				continue
			}
			if registrableRoot(domain) != root {
				continue
			}
			if strings.HasPrefix(strings.ToLower(domain), "api.") || strings.Contains(strings.ToLower(domain), ".api.") {
				if best == "" || domainCounts[domain] > domainCounts[best] {
					best = domain
				}
			}
		}
		if best != "" {
			return best
		}
		if _, ok := domainCounts[seedHost]; ok || len(domainCounts) == 0 {
			return seedHost
		}
	}

	var topDomain string
	for domain, count := range domainCounts {
		if topDomain == "" || count > domainCounts[topDomain] || (count == domainCounts[topDomain] && domain < topDomain) {
			topDomain = domain
		}
	}
	if topDomain != "" {
		return topDomain
	}
	return seedHost
}

func sortedDomains(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for d := range counts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func registrableRoot(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

var knownTLDLike = map[string]bool{
	"com": true, "net": true, "org": true, "io": true, "co": true,
	"test": true, "dev": true, "app": true, "local": true, "localhost": true,
	"uk": true, "us": true, "de": true, "fr": true, "cloud": true, "ai": true,
}

// deriveServiceName implements spec.md §4.2's service-name heuristic:
// strip a leading www/api/v<N>/*serv label, strip trailing TLD-like
// labels, lowercase, and join what remains with hyphens.
func deriveServiceName(host string) string {
	if host == "" {
		return ""
	}
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) > 1 {
		first := labels[0]
		if first == "www" || first == "api" || versionSegmentRx.MatchString(first) || strings.HasSuffix(first, "serv") {
			labels = labels[1:]
		}
	}
	for len(labels) > 1 && knownTLDLike[labels[len(labels)-1]] {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, "-")
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}

// OpenApiOp is one operation mined from an OpenAPI/Swagger document, merged
// into ApiData as a synthetic, unobserved endpoint.
type OpenApiOp struct {
	Method  string
	Path    string
	Summary string
}

// MergeOpenApiEndpoints adds synthetic fromSpec=true ParsedRequests for
// operations documented but never observed in the capture (spec.md §4.2
// "supplemented from a spec").
func MergeOpenApiEndpoints(data apidata.ApiData, ops []OpenApiOp, baseURL string) apidata.ApiData {
	domain := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		domain = u.Host
	}
	if data.Endpoints == nil {
		data.Endpoints = make(map[string][]apidata.ParsedRequest)
	}
	for _, op := range ops {
		key := apidata.EndpointKey(domain, op.Path)
		existing := data.Endpoints[key]
		found := false
		for _, pr := range existing {
			if strings.EqualFold(pr.Method, op.Method) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		data.Endpoints[key] = append(existing, apidata.ParsedRequest{
			Method:   strings.ToUpper(op.Method),
			URL:      strings.TrimRight(baseURL, "/") + op.Path,
			Path:     op.Path,
			Domain:   domain,
			FromSpec: true,
		})
	}
	return data
}
