package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

// CollectCaptureSources enumerates the HAR files a CapturesConfig points at:
// a single file, or every *.har file under a watched folder, sorted for
// deterministic ingestion order.
func CollectCaptureSources(cfg CapturesConfig) ([]string, error) {
	if cfg.File != "" {
		if err := ensureFileExists(cfg.File); err != nil {
			return nil, err
		}
		return []string{cfg.File}, nil
	}
	if cfg.WatchFolder == "" {
		return nil, nil
	}
	stat, err := os.Stat(cfg.WatchFolder)
	if err != nil {
		return nil, fmt.Errorf("config: captures folder %s: %w", cfg.WatchFolder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: captures folder %s is not a directory", cfg.WatchFolder)
	}
	var files []string
	err = filepath.WalkDir(cfg.WatchFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isHarFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk captures folder %s: %w", cfg.WatchFolder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: captures file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: captures file %s: expected a file, found directory", path)
	}
	return nil
}

func isHarFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".har"
}

// parserFor resolves a koanf parser for a config file's extension, used for
// the loader's config file (yaml/json/toml), not for HAR capture files which
// har.Parse reads directly.
func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %s", ext)
	}
}
