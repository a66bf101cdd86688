package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/skilltemplate"
)

func TestHybridEvaluator_CEL(t *testing.T) {
	renderer := skilltemplate.NewRenderer(nil)
	evaluator, err := NewHybridEvaluator(renderer)
	require.NoError(t, err)

	tests := []struct {
		name       string
		expression string
		data       map[string]any
		want       any
	}{
		{
			name:       "string extraction",
			expression: "header.name",
			data:       HeaderContext("X-Tenant-Id"),
			want:       "X-Tenant-Id",
		},
		{
			name:       "number extraction",
			expression: "probe.status",
			data:       ProbeContext(200, 12, "application/json", false),
			want:       int64(200),
		},
		{
			name:       "boolean expression",
			expression: `header.lower == "authorization"`,
			data:       HeaderContext("Authorization"),
			want:       true,
		},
		{
			name:       "map access",
			expression: `probe.contentType`,
			data:       ProbeContext(200, 12, "application/json", false),
			want:       "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, tt.data)
			require.NoError(t, err)
			require.Equal(t, tt.want, result)
		})
	}
}

func TestHybridEvaluator_Template(t *testing.T) {
	renderer := skilltemplate.NewRenderer(nil)
	evaluator, err := NewHybridEvaluator(renderer)
	require.NoError(t, err)

	tests := []struct {
		name       string
		expression string
		data       map[string]any
		want       string
	}{
		{
			name:       "simple interpolation",
			expression: "{{ .header.name }}",
			data:       HeaderContext("X-Tenant-Id"),
			want:       "X-Tenant-Id",
		},
		{
			name:       "string concatenation",
			expression: "{{ .header.name }} {{ .header.lower }}",
			data:       HeaderContext("X-Tenant-Id"),
			want:       "X-Tenant-Id x-tenant-id",
		},
		{
			name:       "sprig function - lower",
			expression: "{{ .header.name | lower }}",
			data:       HeaderContext("X-Tenant-Id"),
			want:       "x-tenant-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, tt.data)
			require.NoError(t, err)
			require.Equal(t, tt.want, result)
		})
	}
}

func TestHybridEvaluator_Detection(t *testing.T) {
	renderer := skilltemplate.NewRenderer(nil)
	evaluator, err := NewHybridEvaluator(renderer)
	require.NoError(t, err)

	data := HeaderContext("X-Tenant-Id")

	// CEL - no {{ brackets
	celResult, err := evaluator.Evaluate("header.name", data)
	require.NoError(t, err)
	require.Equal(t, "X-Tenant-Id", celResult)

	// Template - has {{ brackets
	tmplResult, err := evaluator.Evaluate("{{ .header.name }}", data)
	require.NoError(t, err)
	require.Equal(t, "X-Tenant-Id", tmplResult)
}

func TestHybridEvaluator_Empty(t *testing.T) {
	renderer := skilltemplate.NewRenderer(nil)
	evaluator, err := NewHybridEvaluator(renderer)
	require.NoError(t, err)

	result, err := evaluator.Evaluate("", nil)
	require.NoError(t, err)
	require.Empty(t, result)

	result, err = evaluator.Evaluate("   ", nil)
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestHeaderContext(t *testing.T) {
	ctx := HeaderContext("X-Tenant-Id")
	require.Contains(t, ctx, "header")
	header := ctx["header"].(map[string]any)
	require.Equal(t, "X-Tenant-Id", header["name"])
	require.Equal(t, "x-tenant-id", header["lower"])
}

func TestProbeContext(t *testing.T) {
	ctx := ProbeContext(404, 0, "text/html", true)
	require.Contains(t, ctx, "probe")
	probe := ctx["probe"].(map[string]any)
	require.Equal(t, 404, probe["status"])
	require.Equal(t, 0, probe["bodyLen"])
	require.Equal(t, "text/html", probe["contentType"])
	require.Equal(t, true, probe["bodyIsTrivial"])
}
