package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/pipeline"
	"github.com/unbrowse-ai/harskill/internal/probe"
	"github.com/unbrowse-ai/harskill/internal/replay"
)

// NewCaptureHandler wires the HTTP routing facade to a CaptureService so
// the lifecycle server owns URL dispatch without embedding ingest/replay
// logic into the transport layer:
//
//	POST /captures                    ingest a raw HAR document
//	GET  /captures/{id}/graph         fetch the capture's CorrelationGraph
//	POST /captures/{id}/replay/{idx}  replay the prerequisite chain for a target
//	POST /captures/{id}/probe         run speculative discovery requests
//	GET  /healthz                     liveness probe
func NewCaptureHandler(svc *CaptureService) http.Handler {
	if svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "capture service unavailable")
		})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/captures", handleIngest(svc))
	mux.HandleFunc("/captures/", handleCaptureScoped(svc))
	return mux
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type ingestRequest struct {
	SeedURL string `json:"seedUrl"`
}

type ingestResponse struct {
	ID        string `json:"id"`
	Service   string `json:"service"`
	BaseURL   string `json:"baseUrl"`
	Requests  int    `json:"requests"`
	LinkCount int    `json:"linkCount"`
}

func handleIngest(svc *CaptureService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		seedURL := r.URL.Query().Get("seedUrl")
		raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(raw) == 0 {
			writeError(w, http.StatusBadRequest, "request body must contain a HAR document")
			return
		}

		id, result, err := svc.Ingest(r.Context(), raw, seedURL, pipeline.IngestOptions{})
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, ingestResponse{
			ID:        id,
			Service:   result.ApiData.Service,
			BaseURL:   result.ApiData.BaseURL,
			Requests:  len(result.Captures),
			LinkCount: len(result.Graph.Links),
		})
	}
}

func handleCaptureScoped(svc *CaptureService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, route, targetIndex, ok := parseCaptureRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !svc.Exists(id) {
			writeError(w, http.StatusNotFound, "capture not found")
			return
		}

		switch route {
		case "graph":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "GET required")
				return
			}
			graph, ok := svc.Graph(id)
			if !ok {
				writeError(w, http.StatusNotFound, "capture not found")
				return
			}
			writeJSON(w, http.StatusOK, graph)
		case "replay":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "POST required")
				return
			}
			result, err := svc.Replay(r.Context(), id, targetIndex, replay.Options{})
			if err != nil {
				if errors.Is(err, errNoTransport) {
					writeError(w, http.StatusServiceUnavailable, err.Error())
					return
				}
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			if result.Final == nil {
				writeError(w, http.StatusUnprocessableEntity, "replay target produced no response")
				return
			}
			writeJSON(w, http.StatusOK, result)
		case "probe":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "POST required")
				return
			}
			results, err := svc.Probe(r.Context(), id)
			if err != nil {
				if errors.Is(err, errNoProbeTransport) {
					writeError(w, http.StatusServiceUnavailable, err.Error())
					return
				}
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, probeResponse{Results: toProbeResultViews(results)})
		default:
			http.NotFound(w, r)
		}
	}
}

type probeResponse struct {
	Results []probeResultView `json:"results"`
}

// probeResultView flattens probe.Result for JSON transport: probe.Result's
// Err field is an error interface and does not marshal meaningfully.
type probeResultView struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Reason     string `json:"reason"`
	Status     int    `json:"status"`
	BodyLen    int    `json:"bodyLen"`
	Discovered bool   `json:"discovered"`
	Error      string `json:"error,omitempty"`
}

func toProbeResultViews(results []probe.Result) []probeResultView {
	views := make([]probeResultView, len(results))
	for i, r := range results {
		view := probeResultView{
			Method:     r.Probe.Method,
			URL:        r.Probe.URL,
			Reason:     r.Probe.Reason,
			Status:     r.Status,
			BodyLen:    r.BodyLen,
			Discovered: r.Discovered,
		}
		if r.Err != nil {
			view.Error = r.Err.Error()
		}
		views[i] = view
	}
	return views
}

// parseCaptureRoute parses "/captures/{id}/graph" and
// "/captures/{id}/replay/{index}" into their components.
func parseCaptureRoute(path string) (id string, route string, targetIndex int, ok bool) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[0] != "captures" || parts[1] == "" {
		return "", "", 0, false
	}
	id = parts[1]
	switch parts[2] {
	case "graph":
		if len(parts) != 3 {
			return "", "", 0, false
		}
		return id, "graph", 0, true
	case "probe":
		if len(parts) != 3 {
			return "", "", 0, false
		}
		return id, "probe", 0, true
	case "replay":
		if len(parts) != 4 {
			return "", "", 0, false
		}
		idx, err := strconv.Atoi(parts[3])
		if err != nil {
			return "", "", 0, false
		}
		return id, "replay", idx, true
	default:
		return "", "", 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
