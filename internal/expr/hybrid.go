package expr

import (
	"fmt"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/skilltemplate"
)

// HybridEvaluator can evaluate both CEL expressions and Go templates.
// It automatically detects the type based on the presence of {{ in the expression.
type HybridEvaluator struct {
	celEnv   *Environment
	renderer *skilltemplate.Renderer
}

// NewHybridEvaluator creates an evaluator over the shared header/probe
// environment, usable for both C3's header-category override predicates
// and C11's probe-scoring predicate.
func NewHybridEvaluator(renderer *skilltemplate.Renderer) (*HybridEvaluator, error) {
	celEnv, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("hybrid: create CEL environment: %w", err)
	}
	return &HybridEvaluator{
		celEnv:   celEnv,
		renderer: renderer,
	}, nil
}

// Evaluate executes the expression and returns the result.
// If the expression contains {{, it's treated as a template.
// Otherwise, it's treated as a CEL expression.
func (h *HybridEvaluator) Evaluate(expression string, data any) (any, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return "", nil
	}

	// Detect template syntax
	if strings.Contains(trimmed, "{{") {
		return h.evaluateTemplate(trimmed, data)
	}

	// Evaluate as CEL
	return h.evaluateCEL(trimmed, data)
}

// evaluateTemplate renders a Go template.
func (h *HybridEvaluator) evaluateTemplate(source string, data any) (string, error) {
	tmpl, err := h.renderer.CompileInline("var", source)
	if err != nil {
		return "", fmt.Errorf("hybrid: compile template: %w", err)
	}
	result, err := tmpl.Render(data)
	if err != nil {
		return "", fmt.Errorf("hybrid: render template: %w", err)
	}
	return result, nil
}

// evaluateCEL evaluates a CEL expression.
func (h *HybridEvaluator) evaluateCEL(expression string, data any) (any, error) {
	prog, err := h.celEnv.CompileValue(expression)
	if err != nil {
		return nil, fmt.Errorf("hybrid: compile CEL: %w", err)
	}

	// Convert data to CEL activation map
	vars, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("hybrid: CEL requires map[string]any activation, got %T", data)
	}

	result, err := prog.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("hybrid: evaluate CEL: %w", err)
	}
	return result, nil
}

// HeaderContext builds the activation map for a header-category override
// predicate: header.name, header.lower (spec.md DOMAIN STACK).
func HeaderContext(name string) map[string]any {
	return map[string]any{
		"header": map[string]any{
			"name":  name,
			"lower": strings.ToLower(name),
		},
	}
}

// ProbeContext builds the activation map for a probe-scoring predicate:
// probe.status, probe.bodyLen, probe.contentType, probe.bodyIsTrivial
// (spec.md §4.11, DOMAIN STACK).
func ProbeContext(status, bodyLen int, contentType string, bodyIsTrivial bool) map[string]any {
	return map[string]any{
		"probe": map[string]any{
			"status":        status,
			"bodyLen":       bodyLen,
			"contentType":   contentType,
			"bodyIsTrivial": bodyIsTrivial,
		},
	}
}
