package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeParseJSON(t *testing.T) {
	assert.Nil(t, SafeParseJSON(""))
	assert.Nil(t, SafeParseJSON("not json"))
	assert.Equal(t, map[string]any{"a": float64(1)}, SafeParseJSON(`{"a":1}`))
}

func TestClassifyValueType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want ValueType
	}{
		{"jwt", "eyJhbGciOiJIUzI1NiJ9.x.y", Token},
		{"uuid", "d290f1ee-6c54-4b01-90e6-d701748f0851", ID},
		{"hex hash 32", strings.Repeat("a", 32), Hash},
		{"hex hash 128", strings.Repeat("a1", 64), Hash},
		{"timestamp 13", "1700000000000", Timestamp},
		{"timestamp 10", "1700000000", Timestamp},
		{"cursor", "nextPageToken123", Cursor},
		{"token hint", "x-csrf-secret", Token},
		{"short unknown", "abcdefg", Unknown},
		{"digits too short for id", "1234", Unknown},
		{"plain word", "hello-world-value", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyValueType(tc.in))
		})
	}
}

func TestClassifyValueTypeBoundary(t *testing.T) {
	// Exactly 7 chars, not all digits: must not be eligible anywhere upstream,
	// but classification itself still runs if asked; it falls to unknown since
	// it is below the length-8 thresholds for cursor/token and below hash/timestamp windows.
	assert.Equal(t, Unknown, ClassifyValueType("abcdefg"))
	// Exactly 4 digits: timestamp window starts at 10, so this is unknown by classification,
	// eligibility (handled in correlation package) is the separate boundary the spec tests.
	assert.Equal(t, Unknown, ClassifyValueType("1234"))
}

func TestInferSchemaShapeAndSummary(t *testing.T) {
	v := SafeParseJSON(`{"a":1,"b":"x","c":[1,2,3],"d":{"e":true},"f":null}`)
	require.NotNil(t, v)
	s := InferSchema(v)
	assert.Equal(t, "object{a,b,c,d,f}", s.Summary)
	assert.Equal(t, "number", s.Shape["a"])
	assert.Equal(t, "string", s.Shape["b"])
	assert.Equal(t, "boolean", s.Shape["d.e"])
	assert.Equal(t, "null", s.Shape["f"])
}

func TestSummarizeVariants(t *testing.T) {
	assert.Equal(t, "null", Summarize(nil))
	assert.Equal(t, "empty", Summarize(""))
	assert.Equal(t, "string", Summarize("x"))
	assert.Equal(t, "number", Summarize(float64(3)))
	assert.Equal(t, "boolean", Summarize(true))
	assert.Equal(t, "array[2]", Summarize([]any{1, 2}))
	assert.Equal(t, "non-json", Summarize(struct{}{}))
}

func TestWalkArraySamplingAndDepth(t *testing.T) {
	arr := []any{}
	for i := 0; i < 10; i++ {
		arr = append(arr, i)
	}
	var paths []string
	Walk(arr, func(path string, _ any) { paths = append(paths, path) })
	assert.Len(t, paths, MaxArraySample)

	// object nested 8 levels below the root: only 6 levels of containers are descended.
	nested := map[string]any{}
	cursor := nested
	for i := 0; i < 8; i++ {
		next := map[string]any{}
		cursor["n"] = next
		cursor = next
	}
	cursor["leaf"] = "bottom"
	var count int
	Walk(nested, func(string, any) { count++ })
	assert.Equal(t, 1, count)
}
