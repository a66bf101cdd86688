package correlation

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/schema"
)

const maxPathSegments = 20

func collectRequestNodes(index int, req capture.Bag) []valueNode {
	var nodes []valueNode

	if u, err := url.Parse(req.URL); err == nil {
		nodes = append(nodes, collectURLPathSegments(index, u.Path)...)
	}

	for _, k := range sortedStringKeys(req.Query) {
		v := req.Query[k]
		path := "query." + k
		nodes = append(nodes, valueNode{requestIndex: index, location: LocationQuery, path: path, value: v, valueType: schema.ClassifyValueType(v)})
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if parsed := schema.SafeParseJSON(trimmed); parsed != nil {
				nodes = append(nodes, collectFromJSON(index, LocationQuery, path, parsed)...)
			}
		}
	}

	nodes = append(nodes, collectHeaderNodes(index, req)...)

	for _, name := range sortedStringKeys(req.Cookies) {
		v := req.Cookies[name]
		nodes = append(nodes, valueNode{requestIndex: index, location: LocationCookie, path: "cookie." + name, value: v, valueType: schema.ClassifyValueType(v)})
	}

	nodes = append(nodes, collectBodyNodes(index, req)...)
	return nodes
}

func collectResponseNodes(index int, resp capture.Bag) []valueNode {
	var nodes []valueNode
	nodes = append(nodes, collectHeaderNodes(index, resp)...)
	nodes = append(nodes, collectBodyNodes(index, resp)...)
	return nodes
}

func collectURLPathSegments(index int, path string) []valueNode {
	var nodes []valueNode
	segments := strings.Split(path, "/")
	count := 0
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if count >= maxPathSegments {
			break
		}
		p := "url.path." + strconv.Itoa(count)
		nodes = append(nodes, valueNode{requestIndex: index, location: LocationURL, path: p, value: seg, valueType: schema.ClassifyValueType(seg)})
		if m := extensionSuffixRx.FindStringSubmatch(seg); m != nil {
			nodes = append(nodes, valueNode{requestIndex: index, location: LocationURL, path: p, value: m[1], valueType: schema.ClassifyValueType(m[1])})
		}
		count++
	}
	return nodes
}

// collectHeaderNodes indexes headers by their display name, excluding
// cookie, and additionally unwraps a Bearer authorization value so the bare
// token is indexable on its own (spec.md §4.7).
func collectHeaderNodes(index int, bag capture.Bag) []valueNode {
	var nodes []valueNode
	for _, lc := range sortedStringKeys(bag.Headers) {
		if lc == "cookie" {
			continue
		}
		v := bag.Headers[lc]
		name := bag.HeaderNames[lc]
		if name == "" {
			name = lc
		}
		path := "header." + name
		nodes = append(nodes, valueNode{requestIndex: index, location: LocationHeader, path: path, value: v, valueType: schema.ClassifyValueType(v)})
		if lc == "authorization" {
			if rest, ok := cutBearer(v); ok {
				nodes = append(nodes, valueNode{requestIndex: index, location: LocationHeader, path: "header.Authorization", value: rest, valueType: schema.Token})
			}
		}
	}
	return nodes
}

func cutBearer(v string) (string, bool) {
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:]), true
	}
	return "", false
}

func collectBodyNodes(index int, bag capture.Bag) []valueNode {
	if bag.Body != nil {
		return collectFromJSON(index, LocationBody, "body", bag.Body)
	}
	trimmed := strings.TrimSpace(bag.BodyRaw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if parsed := schema.SafeParseJSON(trimmed); parsed != nil {
			return collectFromJSON(index, LocationBody, "body", parsed)
		}
	}
	return nil
}

// collectFromJSON flattens a JSON value into value nodes at dotted paths
// under prefix, reusing schema.Walk's bounded traversal (depth 5, array
// sample 4, 80 object keys). String leaves are classified normally; a
// numeric/bool/null leaf is still collected (spec.md §9) so a later request
// that stringifies it (e.g. a query param "?user_id=12345" for a JSON number
// 12345) can still link, but it's tagged valueType=unknown rather than run
// through ClassifyValueType.
func collectFromJSON(index int, loc Location, prefix string, v any) []valueNode {
	var nodes []valueNode
	schema.Walk(v, func(path string, leaf any) {
		full := prefix
		if path != "" {
			full += "." + path
		}
		if s, ok := leaf.(string); ok {
			nodes = append(nodes, valueNode{requestIndex: index, location: loc, path: full, value: s, valueType: schema.ClassifyValueType(s)})
			return
		}
		if leaf == nil {
			nodes = append(nodes, valueNode{requestIndex: index, location: loc, path: full, value: "null", valueType: schema.Unknown})
			return
		}
		nodes = append(nodes, valueNode{requestIndex: index, location: loc, path: full, value: fmt.Sprintf("%v", leaf), valueType: schema.Unknown})
	})
	return nodes
}

func sortedStringKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
