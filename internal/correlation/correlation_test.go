package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/capture"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestShouldConsiderValue(t *testing.T) {
	assert.True(t, shouldConsiderValue("12345678"))
	assert.False(t, shouldConsiderValue("short"))
	assert.True(t, shouldConsiderValue("1234"))
	assert.False(t, shouldConsiderValue("123"))
	assert.False(t, shouldConsiderValue(""))
	assert.True(t, shouldConsiderValue(string(make([]byte, 2048))))
	assert.False(t, shouldConsiderValue(string(make([]byte, 2049))))
}

func TestValuePreviewSafety(t *testing.T) {
	token := "eyJhbGciOiJIUzI1NiJ9.x.y"
	assert.Len(t, token, 24)
	assert.Equal(t, "len:24", valuePreview(token, "token"))
	assert.Equal(t, "len:5", valuePreview("short", "unknown"))
	long := "abcdefghijklmnopqrstuvwxyz"
	preview := valuePreview(long, "unknown")
	assert.Equal(t, "abcdef…wxyz (len:26)", preview)
}

func TestValueHashIsSHA256OfTrimmedValue(t *testing.T) {
	h1 := valueHash("abc")
	h2 := valueHash("abc")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, valueHash("abd"))
}

// buildExchange makes a minimal exchange carrying one response body field
// and a later request that reuses it as a header or query/body value.
func buildExchange(index int, method, rawURL string, responseBody any, reqHeaders map[string]string, reqQuery map[string]string) capture.Exchange {
	return capture.Exchange{
		Index: index,
		Request: capture.Bag{
			Method:      method,
			URL:         rawURL,
			Headers:     reqHeaders,
			HeaderNames: sameCaseKeys(reqHeaders),
			Query:       reqQuery,
		},
		Response: capture.Bag{
			Status: 200,
			Body:   responseBody,
		},
	}
}

func sameCaseKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k := range m {
		out[k] = k
	}
	return out
}

func TestInferCorrelationGraphLinksResponseTokenToLaterHeader(t *testing.T) {
	exchanges := []capture.Exchange{
		buildExchange(0, "POST", "https://api.acme.test/login", map[string]any{"token": "abcdef0123456789"}, nil, nil),
		buildExchange(1, "GET", "https://api.acme.test/me", nil, map[string]string{"authorization": "Bearer abcdef0123456789"}, nil),
	}
	graph := InferCorrelationGraphV1(exchanges, fixedClock)
	assert.Equal(t, 1, graph.Version)
	require.Len(t, graph.Links, 1)
	link := graph.Links[0]
	assert.Equal(t, 0, link.SourceRequestIndex)
	assert.Equal(t, "token", link.SourcePath)
	assert.Equal(t, 1, link.TargetRequestIndex)
	assert.Equal(t, "header.Authorization", link.TargetPath)
	assert.Equal(t, []int{0}, graph.EntryPoints)
}

func TestInferCorrelationGraphPicksMostRecentPriorSource(t *testing.T) {
	shared := "sharedvalue123"
	exchanges := []capture.Exchange{
		buildExchange(0, "POST", "https://api.acme.test/a", map[string]any{"id": shared}, nil, nil),
		buildExchange(1, "POST", "https://api.acme.test/b", map[string]any{"id": shared}, nil, nil),
		buildExchange(2, "GET", "https://api.acme.test/c", nil, map[string]string{"x-ref": shared}, nil),
	}
	graph := InferCorrelationGraphV1(exchanges, fixedClock)
	require.Len(t, graph.Links, 1)
	assert.Equal(t, 1, graph.Links[0].SourceRequestIndex, "must pick the most recent valid prior source")
}

func TestInferCorrelationGraphDedupesByTuple(t *testing.T) {
	shared := "sharedvalue123"
	exchanges := []capture.Exchange{
		buildExchange(0, "POST", "https://api.acme.test/a", map[string]any{"id": shared}, nil, nil),
		buildExchange(1, "GET", "https://api.acme.test/b", nil, map[string]string{"x-ref": shared}, nil),
	}
	graph := InferCorrelationGraphV1(exchanges, fixedClock)
	graph2 := InferCorrelationGraphV1(exchanges, fixedClock)
	assert.Equal(t, len(graph.Links), len(graph2.Links), "computation must be idempotent")
	assert.Len(t, graph.Links, 1)
}

func TestPlanChainForTargetBackwardClosure(t *testing.T) {
	exchanges := []capture.Exchange{
		buildExchange(0, "POST", "https://api.acme.test/a", map[string]any{"id": "aaaaaaaa"}, nil, nil),
		buildExchange(1, "POST", "https://api.acme.test/b", map[string]any{"id2": "bbbbbbbb"}, map[string]string{"x-a": "aaaaaaaa"}, nil),
		buildExchange(2, "GET", "https://api.acme.test/c", nil, map[string]string{"x-b": "bbbbbbbb"}, nil),
	}
	graph := InferCorrelationGraphV1(exchanges, fixedClock)
	plan := PlanChainForTarget(graph, 2)
	assert.Equal(t, []int{0, 1, 2}, plan)
}

func TestInferCorrelationGraphCausalityNoFutureSources(t *testing.T) {
	shared := "sharedvalue123"
	exchanges := []capture.Exchange{
		buildExchange(0, "GET", "https://api.acme.test/a", nil, map[string]string{"x-ref": shared}, nil),
		buildExchange(1, "POST", "https://api.acme.test/b", map[string]any{"id": shared}, nil, nil),
	}
	graph := InferCorrelationGraphV1(exchanges, fixedClock)
	assert.Empty(t, graph.Links, "a later response must never source an earlier request")
}
