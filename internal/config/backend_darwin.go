//go:build darwin

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.missionlog.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("no home directory, using a relative data dir", "error", err)
		return "missionlog-data"
	}
	return filepath.Join(home, "Library", "Application Support", "missionlog")
}

// defaultsBackend keeps settings in UserDefaults through the defaults tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	val := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return val, true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		// defaults exits 1 for a missing key or domain.
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, val)
}

func (b defaultsBackend) Set(key, val string) error {
	return b.run("write", key, "-string", val)
}

func (b defaultsBackend) Delete(key string) error {
	return b.run("delete", key)
}

func (b defaultsBackend) run(verb, key string, args ...string) error {
	argv := append([]string{verb, b.domain, key}, args...)
	if out, err := exec.Command("defaults", argv...).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, strings.TrimSpace(string(out)))
	}
	return nil
}
