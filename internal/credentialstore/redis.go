package credentialstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLSConfig carries the TLS settings for a Redis/Valkey-backed store.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig carries the connection settings for a Redis/Valkey-backed
// credential store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisStore struct {
	client valkey.Client
}

// NewRedis dials a Redis/Valkey instance and returns a Store backed by it.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("credentialstore: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("credentialstore: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("credentialstore: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("credentialstore: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("credentialstore: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("credentialstore: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("credentialstore: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("credentialstore: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Store(ctx context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		return errors.New("credentialstore: redis entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	entry = withComputedStaleAt(entry)
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("credentialstore: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("credentialstore: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}

	const (
		batchSize = 100
		delSize   = 50
	)

	pattern := prefix + "*"
	cursor := uint64(0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(int64(batchSize)).Build()
		resp := s.client.Do(ctx, cmd)
		if err := resp.Error(); err != nil {
			return fmt.Errorf("credentialstore: redis scan: %w", err)
		}

		scanResult, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("credentialstore: redis scan parse: %w", err)
		}

		keys := scanResult.Elements
		for i := 0; i < len(keys); i += delSize {
			end := min(i+delSize, len(keys))
			batch := keys[i:end]
			unlinkCmd := s.client.B().Unlink().Key(batch...).Build()
			if err := s.client.Do(ctx, unlinkCmd).Error(); err != nil {
				delCmd := s.client.B().Del().Key(batch...).Build()
				if err := s.client.Do(ctx, delCmd).Error(); err != nil {
					return fmt.Errorf("credentialstore: redis delete keys: %w", err)
				}
			}
		}

		cursor = scanResult.Cursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

func (s *redisStore) Size(ctx context.Context) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Dbsize().Build())
	size, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("credentialstore: redis dbsize: %w", err)
	}
	return size, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func (s *redisStore) InvalidateOnReload(ctx context.Context, scope ReloadScope) error {
	return s.DeletePrefix(ctx, scope.Prefix)
}
