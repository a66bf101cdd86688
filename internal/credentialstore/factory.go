package credentialstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/unbrowse-ai/harskill/internal/config"
)

// New selects and constructs a Store from a CredentialCacheConfig, mirroring
// the teacher's pattern of picking a cache.DecisionCache backend by name.
func New(cfg config.CredentialCacheConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemory(ttl), nil
	case "redis":
		return NewRedis(RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
	default:
		return nil, fmt.Errorf("credentialstore: unsupported backend %q", cfg.Backend)
	}
}
