package credentialstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/config"
)

func TestMemoryStoreStoreLookup(t *testing.T) {
	store := NewMemory(500 * time.Millisecond)
	ctx := context.Background()

	entry := Entry{
		Credential: Credential{
			AuthMethod: "bearer",
			Headers:    map[string]string{"Authorization": "Bearer token"},
		},
		StoredAt: time.Now().UTC(),
	}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	key := Key("cap-1", "billing-api")
	require.NoError(t, store.Store(ctx, key, entry))

	got, ok, err := store.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bearer", got.Credential.AuthMethod)
	require.Equal(t, "Bearer token", got.Credential.Headers["Authorization"])

	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)

	require.NoError(t, store.DeletePrefix(ctx, "cap-1:"))
	_, ok, err = store.Lookup(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Close(ctx))
}

func TestMemoryStoreComputesStaleAtBeforeExpiresAt(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	entry := Entry{Credential: Credential{AuthMethod: "bearer"}, StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(time.Minute)
	require.NoError(t, store.Store(ctx, "cap-3:svc", entry))

	got, ok, err := store.Lookup(ctx, "cap-3:svc")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.StaleAt.Before(got.ExpiresAt))
	require.False(t, got.IsStale(got.StoredAt))
	require.True(t, got.IsStale(got.ExpiresAt))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemory(10 * time.Millisecond)
	ctx := context.Background()

	entry := Entry{Credential: Credential{AuthMethod: "cookie"}, StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(10 * time.Millisecond)
	require.NoError(t, store.Store(ctx, "cap-1:svc", entry))

	time.Sleep(20 * time.Millisecond)
	_, ok, err := store.Lookup(ctx, "cap-1:svc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreInvalidateOnReload(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	entry := Entry{Credential: Credential{AuthMethod: "bearer"}}
	entry.StoredAt = time.Now().UTC()
	entry.ExpiresAt = entry.StoredAt.Add(time.Minute)
	require.NoError(t, store.Store(ctx, "cap-1:svc", entry))

	invalidator, ok := store.(ReloadInvalidator)
	require.True(t, ok, "expected memory store to implement ReloadInvalidator")
	require.NoError(t, invalidator.InvalidateOnReload(ctx, ReloadScope{Capture: "cap-1", Prefix: "cap-1:"}))

	_, ok, err := store.Lookup(ctx, "cap-1:svc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreStoreLookup(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	ctx := context.Background()

	entry := Entry{
		Credential: Credential{
			AuthMethod: "bearer",
			Cookies:    map[string]string{"session": "abc123"},
		},
		StoredAt: time.Now().UTC(),
	}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	require.NoError(t, store.Store(ctx, "cap-2:svc", entry))
	got, ok, err := store.Lookup(ctx, "cap-2:svc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", got.Credential.Cookies["session"])

	server.FastForward(time.Second)
	_, ok, err = store.Lookup(ctx, "cap-2:svc")
	require.NoError(t, err)
	require.False(t, ok)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)

	if rstore, ok := store.(*redisStore); ok {
		require.NoError(t, rstore.DeletePrefix(ctx, "cap-2:"))
		require.NoError(t, rstore.InvalidateOnReload(ctx, ReloadScope{Prefix: "cap-2:"}))
	}

	require.NoError(t, store.Close(ctx))
}

func TestNewSelectsBackend(t *testing.T) {
	memStore, err := New(config.CredentialCacheConfig{Backend: "memory", TTLSeconds: 60})
	require.NoError(t, err)
	require.IsType(t, &memoryStore{}, memStore)

	_, err = New(config.CredentialCacheConfig{Backend: "redis"})
	require.Error(t, err, "redis backend without an address should fail fast")

	_, err = New(config.CredentialCacheConfig{Backend: "memcached"})
	require.Error(t, err)
}
