// Package apidata holds the shared output types produced by the HAR
// ingestion stage (C2 HAR Parser, C3 Header Profiler, C4 Auth Extractor, C5
// CSRF Provenance Engine) and consumed by the replay stage. It has no
// behavior of its own; it exists so those components, and the pipeline
// orchestrator that assembles them, can share one vocabulary without import
// cycles.
package apidata

import "time"

// ParsedRequest is a filtered HAR entry of interest (spec.md §3).
type ParsedRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	Domain      string `json:"domain"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	FromSpec    bool   `json:"fromSpec,omitempty"`
}

// HeaderCategory is one of the five closed categories a header classifies
// into (spec.md §4.3).
type HeaderCategory string

const (
	CategoryApp      HeaderCategory = "app"
	CategoryContext  HeaderCategory = "context"
	CategoryAuth     HeaderCategory = "auth"
	CategoryBrowser  HeaderCategory = "browser"
	CategoryProtocol HeaderCategory = "protocol"
)

// ObservedHeader records one header value observed for a domain along with
// its classification and how often it was seen.
type ObservedHeader struct {
	OriginalName string         `json:"originalName"`
	Value        string         `json:"value"`
	Category     HeaderCategory `json:"category"`
	SeenCount    int            `json:"seenCount"`
}

// DomainProfile is the per-domain slice of a HeaderProfile.
type DomainProfile struct {
	CommonHeaders map[string]ObservedHeader `json:"commonHeaders"` // lowercase name -> observation
	RequestCount  int                       `json:"requestCount"`
	CapturedAt    time.Time                 `json:"capturedAt"`
}

// HeaderProfile is the C3 output: a per-domain header profile plus
// endpoint-specific overrides.
type HeaderProfile struct {
	Domains           map[string]DomainProfile    `json:"domains"`
	EndpointOverrides map[string]map[string]string `json:"endpointOverrides"` // "METHOD /path" -> header->value
}

// CsrfSourceType is one of the carriers a CSRF value may have been copied
// from (spec.md Glossary: Carrier).
type CsrfSourceType string

const (
	SourceCookie         CsrfSourceType = "cookie"
	SourceLocalStorage   CsrfSourceType = "localStorage"
	SourceSessionStorage CsrfSourceType = "sessionStorage"
	SourceMeta           CsrfSourceType = "meta"
	SourceHeader         CsrfSourceType = "header"
)

// CsrfRule is a single inferred provenance rule (spec.md §4.5).
type CsrfRule struct {
	TargetHeader string         `json:"targetHeader"` // lowercase
	SourceType   CsrfSourceType `json:"sourceType"`
	SourceKey    string         `json:"sourceKey"`
	Confidence   float64        `json:"confidence"`
	ObservedAt   time.Time      `json:"observedAt"`
}

// CsrfProvenance is the C5 output.
type CsrfProvenance struct {
	Rules []CsrfRule `json:"rules"`
}

// AuthInfo is the structured auth report generated by C4's
// GenerateAuthInfo.
type AuthInfo struct {
	Service    string            `json:"service"`
	BaseURL    string            `json:"baseUrl"`
	AuthMethod string            `json:"authMethod"`
	Timestamp  time.Time         `json:"timestamp"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	MudraToken string            `json:"mudraToken,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	OutletIDs  []string          `json:"outletIds,omitempty"`
	Notes      []string          `json:"notes,omitempty"`
}

// ApiData is the bundle produced by C2+C3+C4+C5 (spec.md §3).
type ApiData struct {
	Service        string                     `json:"service"`
	BaseURL        string                     `json:"baseUrl"`
	BaseURLs       []string                   `json:"baseUrls"`
	AuthHeaders    map[string]string          `json:"authHeaders"`
	Cookies        map[string]string          `json:"cookies"`
	RawAuthInfo    map[string]string          `json:"rawAuthInfo"` // raw header/cookie provenance strings, pre-structuring
	Endpoints      map[string][]ParsedRequest `json:"endpoints"`   // "domain:path" -> requests
	HeaderProfile  *HeaderProfile             `json:"headerProfile,omitempty"`
	CsrfProvenance *CsrfProvenance            `json:"csrfProvenance,omitempty"`
	AuthInfo       *AuthInfo                  `json:"authInfo,omitempty"`
}

// EndpointKey derives the "domain:path" grouping key used by Endpoints.
func EndpointKey(domain, path string) string {
	return domain + ":" + path
}
