package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchCapturesReportsInitialFilesAndNewAdditions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.har"), []byte("{}"), 0o600))

	changes := make(chan []string, 8)
	watcher, err := WatchCaptures(context.Background(), CapturesConfig{WatchFolder: dir}, func(files []string) {
		changes <- files
	}, func(err error) {
		t.Logf("watch error: %v", err)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	select {
	case files := <-changes:
		require.Len(t, files, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial callback")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.har"), []byte("{}"), 0o600))

	select {
	case files := <-changes:
		require.Len(t, files, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload after new file")
	}
}

func TestWatchCapturesRequiresSource(t *testing.T) {
	_, err := WatchCaptures(context.Background(), CapturesConfig{}, func([]string) {}, nil)
	require.Error(t, err)
}

func TestWatchCapturesRequiresCallback(t *testing.T) {
	dir := t.TempDir()
	_, err := WatchCaptures(context.Background(), CapturesConfig{WatchFolder: dir}, nil, nil)
	require.Error(t, err)
}
