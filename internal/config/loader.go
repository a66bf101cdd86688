package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.templates.templatesfolder":     "server.templates.templatesFolder",
			"server.templates.templatesallowenv":   "server.templates.templatesAllowEnv",
			"server.templates.templatesallowedenv": "server.templates.templatesAllowedEnv",
			"server.cache.ttlseconds":               "server.cache.ttlSeconds",
			"server.cache.keysalt":                  "server.cache.keySalt",
			"server.cache.redis.tls.cafile":          "server.cache.redis.tls.caFile",
			"server.headerprofile.appfrequencythreshold": "server.headerProfile.appFrequencyThreshold",
			"server.headerprofile.categoryoverrides":     "server.headerProfile.categoryOverrides",
			"server.probe.maxprobes":                 "server.probe.maxProbes",
			"server.probe.scoreexpr":                 "server.probe.scoreExpr",
			"server.captures.watchfolder":            "server.captures.watchFolder",
			"server.filterrules.staticextensions":    "server.filterRules.staticExtensions",
			"server.filterrules.thirdpartysuffixes":  "server.filterRules.thirdPartySuffixes",
			"server.filterrules.authheaderallowlist": "server.filterRules.authHeaderAllowlist",
			"server.filterrules.xheaderblocklist":    "server.filterRules.xHeaderBlocklist",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"templates": map[string]any{
				"templatesFolder":     cfg.Server.Templates.TemplatesFolder,
				"templatesAllowEnv":   cfg.Server.Templates.TemplatesAllowEnv,
				"templatesAllowedEnv": cfg.Server.Templates.TemplatesAllowedEnv,
			},
			"cache": map[string]any{
				"backend":    cfg.Server.Cache.Backend,
				"ttlSeconds": cfg.Server.Cache.TTLSeconds,
				"keySalt":    cfg.Server.Cache.KeySalt,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"headerProfile": map[string]any{
				"appFrequencyThreshold": cfg.Server.HeaderProfile.AppFrequencyThreshold,
				"categoryOverrides":     cfg.Server.HeaderProfile.CategoryOverrides,
			},
			"probe": map[string]any{
				"maxProbes":   cfg.Server.Probe.MaxProbes,
				"concurrency": cfg.Server.Probe.Concurrency,
				"scoreExpr":   cfg.Server.Probe.ScoreExpr,
			},
			"captures": map[string]any{
				"watchFolder": cfg.Server.Captures.WatchFolder,
				"file":        cfg.Server.Captures.File,
			},
			"filterRules": map[string]any{
				"staticExtensions":    cfg.Server.FilterRules.StaticExtensions,
				"thirdPartySuffixes":  cfg.Server.FilterRules.ThirdPartySuffixes,
				"authHeaderAllowlist": cfg.Server.FilterRules.AuthHeaderAllowlist,
				"xHeaderBlocklist":    cfg.Server.FilterRules.XHeaderBlocklist,
			},
		},
	}
}
