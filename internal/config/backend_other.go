//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "missionlog")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "missionlog", "config.json")
}

// xdgDir returns $env, or ~/<fallback...> when it is unset.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("no home directory, using the working directory", "env", env, "error", err)
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// fileBackend is a flat JSON object of string values. Numbers written by
// hand are accepted on read.
type fileBackend struct {
	path   string
	values map[string]string
}

func newPlatformBackend() Backend {
	b := &fileBackend{path: configFilePath(), values: make(map[string]string)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("could not read config file, using defaults", "path", b.path, "error", err)
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("could not parse config file, using defaults", "path", b.path, "error", err)
		return
	}
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			b.values[k] = v
		case float64:
			b.values[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			slog.Warn("ignoring config value of unexpected type", "key", k, "value", v)
		}
	}
}

// save writes through a temp file so a crash never leaves half a file.
func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fileBackend) Set(key, val string) error {
	b.values[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.save()
}
