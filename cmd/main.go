package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/config"
	"github.com/unbrowse-ai/harskill/internal/credentialstore"
	"github.com/unbrowse-ai/harskill/internal/expr"
	"github.com/unbrowse-ai/harskill/internal/harparse"
	"github.com/unbrowse-ai/harskill/internal/headerprofile"
	"github.com/unbrowse-ai/harskill/internal/logging"
	"github.com/unbrowse-ai/harskill/internal/metrics"
	"github.com/unbrowse-ai/harskill/internal/pipeline"
	"github.com/unbrowse-ai/harskill/internal/probe"
	"github.com/unbrowse-ai/harskill/internal/replay"
	"github.com/unbrowse-ai/harskill/internal/server"
	"github.com/unbrowse-ai/harskill/internal/skilltemplate"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "HARSKILL", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configLoader is the minimal surface run() needs from config.Loader, kept
// as an interface so tests can substitute a fake loader.
type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
}

// runnableServer is the minimal surface run() needs from server.Server.
type runnableServer interface {
	Run(ctx context.Context) error
}

// captureWatcher is the minimal surface run() needs from a
// config.CaptureWatcher.
type captureWatcher interface {
	Stop()
}

var newConfigLoader = func(envPrefix, configFile string) configLoader {
	return config.NewLoader(envPrefix, configFile)
}

var newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	return server.New(cfg, logger, handler)
}

var newCaptureWatcher = func(ctx context.Context, cfg config.CapturesConfig, onChange func([]string), onError func(error)) (captureWatcher, error) {
	return config.WatchCaptures(ctx, cfg, onChange, onError)
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	store, err := credentialstore.New(cfg.Server.Cache)
	if err != nil {
		logger.Error("credential store initialization failed, falling back to memory", slog.Any("error", err))
		store = credentialstore.NewMemory(time.Duration(cfg.Server.Cache.TTLSeconds) * time.Second)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("credential store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	httpTransport := httpReplayTransport(30 * time.Second)

	captureSvc := server.NewCaptureService(logger, metricsRecorder, store, httpTransport)

	headerProfileOpts := headerprofile.DefaultOptions()
	if cfg.Server.HeaderProfile.AppFrequencyThreshold > 0 {
		headerProfileOpts.AppFrequencyThreshold = cfg.Server.HeaderProfile.AppFrequencyThreshold
	}
	if len(cfg.Server.HeaderProfile.CategoryOverrides) > 0 {
		exprs := make(map[apidata.HeaderCategory]string, len(cfg.Server.HeaderProfile.CategoryOverrides))
		for category, predicate := range cfg.Server.HeaderProfile.CategoryOverrides {
			exprs[apidata.HeaderCategory(category)] = predicate
		}
		overrides, err := headerprofile.NewCategoryOverrides(exprs)
		if err != nil {
			logger.Error("header category overrides initialization failed, using built-in classification", slog.Any("error", err))
		} else {
			headerProfileOpts.CategoryOverrides = overrides
		}
	}
	captureSvc.WithHeaderProfile(headerProfileOpts)

	fr := cfg.Server.FilterRules
	captureSvc.WithFilterRules(harparse.DefaultRules().WithExtras(
		fr.StaticExtensions, fr.ThirdPartySuffixes, fr.AuthHeaderAllowlist, fr.XHeaderBlocklist))

	probeOpts := probe.DefaultOptions()
	if cfg.Server.Probe.MaxProbes > 0 {
		probeOpts.MaxProbes = cfg.Server.Probe.MaxProbes
	}
	if cfg.Server.Probe.Concurrency > 0 {
		probeOpts.Concurrency = cfg.Server.Probe.Concurrency
	}
	if strings.TrimSpace(cfg.Server.Probe.ScoreExpr) != "" {
		hybrid, err := expr.NewHybridEvaluator(skilltemplate.NewRenderer(nil))
		if err != nil {
			logger.Error("probe scorer initialization failed, using built-in classification", slog.Any("error", err))
		} else {
			probeOpts.ScoreExpr = cfg.Server.Probe.ScoreExpr
			probeOpts = probeOpts.WithScorer(hybrid)
		}
	}
	captureSvc.WithProbing(httpProbeTransport(30*time.Second), probeOpts)

	var watcher captureWatcher
	if cfg.Server.Captures.WatchFolder != "" || cfg.Server.Captures.File != "" {
		w, err := newCaptureWatcher(ctx, cfg.Server.Captures, func(files []string) {
			logger.Info("capture directory changed", slog.Int("files", len(files)))
			for _, file := range files {
				raw, err := os.ReadFile(file)
				if err != nil {
					logger.Error("capture read failed", slog.String("file", file), slog.Any("error", err))
					continue
				}
				if _, _, err := captureSvc.Ingest(ctx, raw, "", pipeline.IngestOptions{}); err != nil {
					logger.Error("capture ingest failed", slog.String("file", file), slog.Any("error", err))
				}
			}
		}, func(err error) {
			if err != nil {
				logger.Error("capture watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("capture watcher setup failed", slog.Any("error", err))
		} else {
			watcher = w
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewCaptureHandler(captureSvc))

	srv, err := newHTTPServer(cfg, logger, mux)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run failed: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// httpReplayTransport builds a replay.Transport backed by a real net/http
// client, used by C10's Sequence Executor when the server replays a
// materialized skill's chain against its live backend.
func httpReplayTransport(timeout time.Duration) replay.Transport {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, req replay.PreparedRequest) (replay.RuntimeResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, strings.NewReader(req.Body))
		if err != nil {
			return replay.RuntimeResponse{}, fmt.Errorf("build replay request: %w", err)
		}
		for name, value := range req.Headers {
			httpReq.Header.Set(name, value)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return replay.RuntimeResponse{}, fmt.Errorf("execute replay request: %w", err)
		}
		defer resp.Body.Close()

		return readRuntimeResponse(resp)
	}
}

// httpProbeTransport builds a probe.Transport backed by a real net/http
// client, used by C11's Endpoint Prober to issue speculative discovery
// requests against a capture's live backend.
func httpProbeTransport(timeout time.Duration) probe.Transport {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, method, url string) (int, string, string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return 0, "", "", fmt.Errorf("build probe request: %w", err)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return 0, "", "", fmt.Errorf("execute probe request: %w", err)
		}
		defer resp.Body.Close()

		runtimeResp, err := readRuntimeResponse(resp)
		if err != nil {
			return 0, "", "", err
		}
		return runtimeResp.Status, runtimeResp.BodyText, runtimeResp.ContentType, nil
	}
}

func readRuntimeResponse(resp *http.Response) (replay.RuntimeResponse, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	return replay.RuntimeResponse{
		Status:      resp.StatusCode,
		Headers:     headers,
		BodyText:    string(buf),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

