package replay

import (
	"context"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/capture"
	"github.com/unbrowse-ai/harskill/internal/correlation"
	"github.com/unbrowse-ai/harskill/internal/schema"
)

// Transport sends a PreparedRequest and returns the observed response. The
// executor never retries; retry policy belongs to the caller's transport.
type Transport func(ctx context.Context, req PreparedRequest) (RuntimeResponse, error)

// Options configures one ExecuteChainForTarget call.
type Options struct {
	SessionHeaders     map[string]string
	BodyOverrideText   string
	PromoteHeaderNames []string
}

// StepResult records one executed chain step's outcome.
type StepResult struct {
	Index  int
	OK     bool
	Status int
}

// DefaultPromoteHeaderNames lists the response headers promoted into
// sessionHeaders for the next step by default (spec.md §4.10).
func DefaultPromoteHeaderNames() []string {
	return []string{
		"x-csrf-token", "x-xsrf-token", "csrf-token", "x-auth-token",
		"x-access-token", "authorization", "x-request-id", "x-session-id",
		"x-transaction-id",
	}
}

var bodyCarryingMethods = map[string]struct{}{"POST": {}, "PUT": {}, "PATCH": {}}

// ExecuteChainForTarget runs PlanChainForTarget's steps in order against
// transport, carrying response-derived runtime state forward so each later
// step can resolve its correlated values, and promoting session-identifying
// response headers so they ride along on every subsequent step (spec.md
// §4.10).
func ExecuteChainForTarget(ctx context.Context, exchanges []capture.Exchange, graph correlation.Graph, targetIndex int, transport Transport, opts Options) (chain []int, final *RuntimeResponse, perStep []StepResult, sessionHeaders map[string]string, err error) {
	chain = correlation.PlanChainForTarget(graph, targetIndex)
	runtimeByIndex := make(map[int]RuntimeResponse, len(chain))

	sessionHeaders = make(map[string]string, len(opts.SessionHeaders))
	for k, v := range opts.SessionHeaders {
		sessionHeaders[k] = v
	}

	promoteNames := opts.PromoteHeaderNames
	if len(promoteNames) == 0 {
		promoteNames = DefaultPromoteHeaderNames()
	}
	promote := make(map[string]struct{}, len(promoteNames))
	for _, n := range promoteNames {
		promote[strings.ToLower(n)] = struct{}{}
	}

	for _, stepIndex := range chain {
		bodyOverride := ""
		if stepIndex == targetIndex {
			bodyOverride = opts.BodyOverrideText
		}

		prepared, ok := PrepareRequestForStep(exchanges, graph, stepIndex, runtimeByIndex, sessionHeaders, bodyOverride)
		if !ok {
			continue
		}
		if prepared.Body == "" {
			if _, carriesBody := bodyCarryingMethods[strings.ToUpper(prepared.Method)]; carriesBody {
				prepared.Body = "{}"
			}
		}

		resp, terr := transport(ctx, *prepared)
		if terr != nil {
			perStep = append(perStep, StepResult{Index: stepIndex, OK: false, Status: 0})
			continue
		}

		resp.ContentType = headerValueCI(resp.Headers, "content-type")
		resp.BodyJSON = parseResponseBody(resp.ContentType, resp.BodyText)
		runtimeByIndex[stepIndex] = resp

		for name, v := range resp.Headers {
			if _, wanted := promote[strings.ToLower(name)]; wanted {
				sessionHeaders[name] = v
			}
		}

		perStep = append(perStep, StepResult{
			Index:  stepIndex,
			OK:     resp.Status >= 200 && resp.Status < 300,
			Status: resp.Status,
		})
	}

	if rt, ok := runtimeByIndex[targetIndex]; ok {
		final = &rt
	}
	return chain, final, perStep, sessionHeaders, nil
}

func headerValueCI(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	lc := strings.ToLower(name)
	for k, v := range headers {
		if strings.ToLower(k) == lc {
			return v
		}
	}
	return ""
}

func parseResponseBody(contentType, bodyText string) any {
	trimmed := strings.TrimSpace(bodyText)
	looksJSON := strings.Contains(strings.ToLower(contentType), "json") ||
		strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	if !looksJSON {
		return nil
	}
	return schema.SafeParseJSON(bodyText)
}
