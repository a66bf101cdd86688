// Package config hydrates the harskill server's runtime configuration with
// env > file > default precedence, the way the teacher's config layer does
// (SPEC_FULL.md AMBIENT STACK).
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every server-level option.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs the harskill server reads at
// startup.
type ServerConfig struct {
	Listen        ListenConfig        `koanf:"listen"`
	Logging       LoggingConfig       `koanf:"logging"`
	Templates     TemplatesConfig     `koanf:"templates"`
	Cache         CredentialCacheConfig `koanf:"cache"`
	HeaderProfile HeaderProfileConfig `koanf:"headerProfile"`
	Probe         ProbeConfig         `koanf:"probe"`
	Captures      CapturesConfig      `koanf:"captures"`
	FilterRules   FilterRulesConfig   `koanf:"filterRules"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// TemplatesConfig captures the skill body/header template sandbox root, used
// by internal/skilltemplate when a materialized skill's prepared request
// embeds a Go template instead of a literal value.
type TemplatesConfig struct {
	TemplatesFolder     string   `koanf:"templatesFolder"`
	TemplatesAllowEnv   bool     `koanf:"templatesAllowEnv"`
	TemplatesAllowedEnv []string `koanf:"templatesAllowedEnv"`
}

// CredentialCacheConfig selects the backend internal/credentialstore uses to
// persist harvested session credentials (spec.md §6).
type CredentialCacheConfig struct {
	Backend    string            `koanf:"backend"`
	TTLSeconds int               `koanf:"ttlSeconds"`
	KeySalt    string            `koanf:"keySalt"`
	Redis      RedisCacheConfig  `koanf:"redis"`
}

type RedisCacheConfig struct {
	Address  string           `koanf:"address"`
	Username string           `koanf:"username"`
	Password string           `koanf:"password"`
	DB       int              `koanf:"db"`
	TLS      RedisTLSConfig   `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// HeaderProfileConfig tunes C3's header profiler.
type HeaderProfileConfig struct {
	// AppFrequencyThreshold is the fraction (0-1] of a domain's requests an
	// "app" category header must appear on to be considered stable.
	AppFrequencyThreshold float64 `koanf:"appFrequencyThreshold"`
	// CategoryOverrides maps a header category name (protocol|auth|browser|
	// context|app) to a CEL predicate evaluated over header.name/header.lower
	// that reclassifies a header into that category (headerprofile.ClassifyWith).
	CategoryOverrides map[string]string `koanf:"categoryOverrides"`
}

// ProbeConfig tunes C11's endpoint prober.
type ProbeConfig struct {
	MaxProbes   int    `koanf:"maxProbes"`
	Concurrency int    `koanf:"concurrency"`
	// ScoreExpr optionally overrides probe.defaultClassify with a CEL
	// predicate evaluated over probe.status/bodyLen/contentType/bodyIsTrivial.
	ScoreExpr string `koanf:"scoreExpr"`
}

// CapturesConfig announces where incoming HAR captures are sourced from for
// auto-ingestion. File and WatchFolder are mutually exclusive, mirroring the
// single-file/folder contract the teacher uses for rule documents.
type CapturesConfig struct {
	WatchFolder string `koanf:"watchFolder"`
	File        string `koanf:"file"`
}

// FilterRulesConfig extends the curated lists internal/harparse.DefaultRules
// ships with, so an operator can recognize a new third-party tracker domain
// or a bespoke auth header without a rebuild (harparse.Rules, SPEC_FULL.md
// AMBIENT STACK). Entries here are appended to the built-in defaults, never
// replace them.
type FilterRulesConfig struct {
	StaticExtensions    []string `koanf:"staticExtensions"`
	ThirdPartySuffixes  []string `koanf:"thirdPartySuffixes"`
	AuthHeaderAllowlist []string `koanf:"authHeaderAllowlist"`
	XHeaderBlocklist    []string `koanf:"xHeaderBlocklist"`
}

// Validate enforces invariants that keep the server predictable before it
// starts accepting captures.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Captures.WatchFolder != "" && c.Server.Captures.File != "" {
		return errors.New("config: captures.watchFolder and captures.file are mutually exclusive")
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.Server.HeaderProfile.AppFrequencyThreshold < 0 || c.Server.HeaderProfile.AppFrequencyThreshold > 1 {
		return fmt.Errorf("config: server.headerProfile.appFrequencyThreshold must be in [0,1]: %v", c.Server.HeaderProfile.AppFrequencyThreshold)
	}
	for cat := range c.Server.HeaderProfile.CategoryOverrides {
		switch cat {
		case "protocol", "auth", "browser", "context", "app":
		default:
			return fmt.Errorf("config: server.headerProfile.categoryOverrides unsupported category: %s", cat)
		}
	}
	if c.Server.Probe.MaxProbes < 0 {
		return fmt.Errorf("config: server.probe.maxProbes invalid: %d", c.Server.Probe.MaxProbes)
	}
	if c.Server.Probe.Concurrency < 0 {
		return fmt.Errorf("config: server.probe.concurrency invalid: %d", c.Server.Probe.Concurrency)
	}
	return nil
}

// DefaultConfig returns the baseline values a fresh harskill server starts
// with absent any file or environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Templates: TemplatesConfig{
				TemplatesFolder: "./skills",
			},
			Cache: CredentialCacheConfig{
				Backend:    "memory",
				TTLSeconds: 3600,
			},
			HeaderProfile: HeaderProfileConfig{
				AppFrequencyThreshold: 0.5,
			},
			Probe: ProbeConfig{
				MaxProbes:   50,
				Concurrency: 3,
			},
			Captures: CapturesConfig{
				WatchFolder: "./captures",
			},
		},
	}
}
