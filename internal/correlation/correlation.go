// Package correlation implements C7, the Correlation Engine, and C8, the
// Chain Planner: it finds values that flow from one captured response into
// a later request, and plans the minimal sequence of prior requests needed
// to reach a given target (spec.md §4.7, §4.8).
package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/schema"
)

// Location is one of the five places a value can be observed (spec.md §3).
type Location string

const (
	LocationBody   Location = "body"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationURL    Location = "url"
	LocationQuery  Location = "query"
)

// valueNode is internal to a single correlation computation and never
// surfaces outside this package (spec.md §3).
type valueNode struct {
	requestIndex int
	location     Location
	path         string
	value        string
	valueType    schema.ValueType
}

// Link is a CorrelationLink: one inferred flow of a value from an earlier
// response into a later request.
type Link struct {
	SourceRequestIndex int             `json:"sourceRequestIndex"`
	SourcePath         string          `json:"sourcePath"`
	SourceLocation     Location        `json:"sourceLocation"`
	TargetRequestIndex int             `json:"targetRequestIndex"`
	TargetPath         string          `json:"targetPath"`
	TargetLocation     Location        `json:"targetLocation"`
	ValueHash          string          `json:"valueHash"`
	ValuePreview       string          `json:"valuePreview"`
	ValueType          schema.ValueType `json:"valueType"`
}

// RequestSummary is the minimal per-exchange record carried on the graph.
type RequestSummary struct {
	Index  int    `json:"index"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// Graph is the CorrelationGraph produced by InferCorrelationGraphV1.
type Graph struct {
	Version     int              `json:"version"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Requests    []RequestSummary `json:"requests"`
	Links       []Link           `json:"links"`
	EntryPoints []int            `json:"entryPoints"`
	Chains      [][]int          `json:"chains"`
}

var extensionSuffixRx = regexp.MustCompile(`^(.+)\.(json|xml|csv|txt|html)$`)

const graphVersion = 1

// InferCorrelationGraphV1 builds a CorrelationGraph from time-ordered
// captured exchanges. now defaults to time.Now if nil, so callers can inject
// a clock for deterministic output (spec.md §6).
func InferCorrelationGraphV1(exchanges []capture.Exchange, now func() time.Time) Graph {
	if now == nil {
		now = time.Now
	}

	requestNodesByExchange := make([][]valueNode, len(exchanges))
	responseNodesByExchange := make([][]valueNode, len(exchanges))
	for i, ex := range exchanges {
		requestNodesByExchange[i] = collectRequestNodes(i, ex.Request)
		responseNodesByExchange[i] = collectResponseNodes(i, ex.Response)
	}

	// Index all eligible response nodes by trimmed value.
	responseByValue := make(map[string][]valueNode)
	for _, nodes := range responseNodesByExchange {
		for _, n := range nodes {
			if !shouldConsiderValue(n.value) {
				continue
			}
			trimmed := strings.TrimSpace(n.value)
			responseByValue[trimmed] = append(responseByValue[trimmed], n)
		}
	}

	type linkKey struct {
		sourceIndex    int
		sourceLocation Location
		sourcePath     string
		targetIndex    int
		targetLocation Location
		targetPath     string
	}
	seen := make(map[linkKey]bool)
	links := make([]Link, 0)

	for targetIndex, nodes := range requestNodesByExchange {
		for _, reqNode := range nodes {
			if !shouldConsiderValue(reqNode.value) {
				continue
			}
			trimmed := strings.TrimSpace(reqNode.value)
			candidates := responseByValue[trimmed]
			if len(candidates) == 0 {
				continue
			}
			var best *valueNode
			for i := range candidates {
				c := candidates[i]
				if c.requestIndex >= targetIndex {
					continue
				}
				if best == nil || c.requestIndex > best.requestIndex {
					cc := c
					best = &cc
				}
			}
			if best == nil {
				continue
			}

			sourcePath := strings.TrimPrefix(best.path, "body.")
			key := linkKey{
				sourceIndex:    best.requestIndex,
				sourceLocation: best.location,
				sourcePath:     sourcePath,
				targetIndex:    targetIndex,
				targetLocation: reqNode.location,
				targetPath:     reqNode.path,
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			links = append(links, Link{
				SourceRequestIndex: best.requestIndex,
				SourcePath:         sourcePath,
				SourceLocation:     best.location,
				TargetRequestIndex: targetIndex,
				TargetPath:         reqNode.path,
				TargetLocation:     reqNode.location,
				ValueHash:          valueHash(trimmed),
				ValuePreview:       valuePreview(trimmed, reqNode.valueType),
				ValueType:          reqNode.valueType,
			})
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].TargetRequestIndex != links[j].TargetRequestIndex {
			return links[i].TargetRequestIndex < links[j].TargetRequestIndex
		}
		if links[i].SourceRequestIndex != links[j].SourceRequestIndex {
			return links[i].SourceRequestIndex < links[j].SourceRequestIndex
		}
		if links[i].TargetPath != links[j].TargetPath {
			return links[i].TargetPath < links[j].TargetPath
		}
		return links[i].SourcePath < links[j].SourcePath
	})

	requests := make([]RequestSummary, len(exchanges))
	for i, ex := range exchanges {
		requests[i] = RequestSummary{Index: i, Method: ex.Request.Method, URL: ex.Request.URL, Status: ex.Response.Status}
	}

	hasInbound := make(map[int]bool)
	byFrom := make(map[int][]int)
	for _, l := range links {
		hasInbound[l.TargetRequestIndex] = true
		byFrom[l.SourceRequestIndex] = append(byFrom[l.SourceRequestIndex], l.TargetRequestIndex)
	}
	for from := range byFrom {
		sort.Ints(byFrom[from])
	}

	var entryPoints []int
	for i := range exchanges {
		if !hasInbound[i] {
			entryPoints = append(entryPoints, i)
		}
	}

	chains := make([][]int, 0, len(entryPoints))
	for _, entry := range entryPoints {
		chains = append(chains, bfsChain(entry, byFrom))
	}

	return Graph{
		Version:     graphVersion,
		GeneratedAt: now(),
		Requests:    requests,
		Links:       links,
		EntryPoints: entryPoints,
		Chains:      chains,
	}
}

// bfsChain walks byFrom breadth-first from entry, only following edges to a
// strictly greater index, producing a single ordered path.
func bfsChain(entry int, byFrom map[int][]int) []int {
	visited := map[int]bool{entry: true}
	chain := []int{entry}
	queue := []int{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range byFrom[cur] {
			if next <= cur || visited[next] {
				continue
			}
			visited[next] = true
			chain = append(chain, next)
			queue = append(queue, next)
		}
	}
	return chain
}

// PlanChainForTarget returns the ascending-sorted set of request indices
// needed to reach targetIndex: the target plus the transitive closure of
// every link's source that feeds it (spec.md §4.8).
func PlanChainForTarget(graph Graph, targetIndex int) []int {
	set := map[int]bool{targetIndex: true}
	for {
		added := false
		for _, l := range graph.Links {
			if set[l.TargetRequestIndex] && !set[l.SourceRequestIndex] {
				set[l.SourceRequestIndex] = true
				added = true
			}
		}
		if !added {
			break
		}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// shouldConsiderValue reports whether a value is worth indexing for
// correlation: length 8-2048 inclusive, or a pure numeric string of length
// >= 4 (spec.md §4.7).
func shouldConsiderValue(v string) bool {
	trimmed := strings.TrimSpace(v)
	n := len(trimmed)
	if n >= 8 && n <= 2048 {
		return true
	}
	if n >= 4 && isDigits(trimmed) {
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// valueHash is SHA-256 of the trimmed value, hex-encoded (spec.md §3).
func valueHash(trimmed string) string {
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}

// valuePreview implements spec.md §3's preview-safety rule: token/hash/id
// values, and any value of 12 characters or fewer, never reveal more than
// their length.
func valuePreview(trimmed string, vt schema.ValueType) string {
	n := len(trimmed)
	if vt == schema.Token || vt == schema.Hash || vt == schema.ID || n <= 12 {
		return "len:" + strconv.Itoa(n)
	}
	return trimmed[:6] + "…" + trimmed[n-4:] + " (len:" + strconv.Itoa(n) + ")"
}
