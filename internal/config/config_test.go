package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory Backend.
type memBackend struct {
	data    map[string]string
	readErr error
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string]string)} }

func (m *memBackend) Get(key string) (string, bool, error) {
	if m.readErr != nil {
		return "", false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error { delete(m.data, key); return nil }

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8000/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Projection.GridDays != 60 {
		t.Errorf("Projection.GridDays = %d, want 60", cfg.Projection.GridDays)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}

	d := cfg.Durations()
	want := Durations{
		APITimeout:      30 * time.Second,
		AutosaveDelay:   3 * time.Second,
		XPPopLifetime:   time.Second,
		LevelUpLifetime: 4 * time.Second,
	}
	if d != want {
		t.Errorf("Durations() = %+v, want %+v", d, want)
	}
}

// TestBackendValues verifies values stored in the backend are read.
func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b.data["api.base_url"] = "https://tracker.example.com/api"
	b.data["editor.autosave_delay"] = "500ms"
	b.data["projection.grid_days"] = "90"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://tracker.example.com/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Projection.GridDays != 90 {
		t.Errorf("Projection.GridDays = %d", cfg.Projection.GridDays)
	}
	if got := cfg.Durations().AutosaveDelay; got != 500*time.Millisecond {
		t.Errorf("AutosaveDelay = %v", got)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := newMemBackend()
	b.data["api.base_url"] = "https://from-backend.example.com"
	b.data["projection.grid_days"] = "90"

	t.Setenv("MISSIONLOG_API_BASE_URL", "https://from-env.example.com")
	t.Setenv("MISSIONLOG_PROJECTION_GRID_DAYS", "not-a-number")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://from-env.example.com" {
		t.Errorf("API.BaseURL = %q, want env value", cfg.API.BaseURL)
	}
	if cfg.Projection.GridDays != 90 {
		t.Errorf("unparseable env int should keep backend value, got %d", cfg.Projection.GridDays)
	}
}

func TestBackendError(t *testing.T) {
	b := newMemBackend()
	b.readErr = errors.New("defaults: permission denied")
	if _, err := loadWith(b); err == nil || !strings.Contains(err.Error(), "api.base_url") {
		t.Errorf("err = %v, want error naming the key", err)
	}
}

// TestInvalidDurationFallsBack verifies bad durations use defaults.
func TestInvalidDurationFallsBack(t *testing.T) {
	cfg := defaults()
	cfg.Editor.AutosaveDelay = "soon"
	cfg.Effects.XPPopLifetime = "-1s"

	d := cfg.Durations()
	if d.AutosaveDelay != 3*time.Second {
		t.Errorf("AutosaveDelay = %v, want default", d.AutosaveDelay)
	}
	if d.XPPopLifetime != time.Second {
		t.Errorf("XPPopLifetime = %v, want default", d.XPPopLifetime)
	}
}

func TestSetKey(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
		stored     string
	}{
		{key: "api.base_url", value: "https://x.example.com/api", stored: "https://x.example.com/api"},
		{key: "api.base_url", value: "ftp://x", wantErr: "scheme"},
		{key: "api.timeout", value: "10s", stored: "10s"},
		{key: "api.timeout", value: "ten", wantErr: "invalid duration"},
		{key: "editor.autosave_delay", value: "0s", wantErr: "positive"},
		{key: "projection.grid_days", value: "30", stored: "30"},
		{key: "projection.grid_days", value: "x", wantErr: "invalid integer"},
		{key: "log.level", value: "debug", stored: "debug"},
		{key: "log.level", value: "loud", wantErr: "must be one of"},
		{key: "nope", value: "1", wantErr: "unknown config key"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			b := newMemBackend()
			err := setKeyWith(b, tt.key, tt.value)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				if _, ok := b.data[tt.key]; ok {
					t.Error("invalid value was written")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.data[tt.key] != tt.stored {
				t.Errorf("stored %q, want %q", b.data[tt.key], tt.stored)
			}
		})
	}
}

func TestStoredIntegerIgnoredWhenInvalid(t *testing.T) {
	b := newMemBackend()
	b.data["projection.grid_days"] = "-4"
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Projection.GridDays != 60 {
		t.Errorf("GridDays = %d, want default 60", cfg.Projection.GridDays)
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMemBackend()
	b.data["log.level"] = "debug"
	if err := unsetKeyWith(b, "log.level"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	if _, ok := b.data["log.level"]; ok {
		t.Error("value still stored")
	}
	if err := unsetKeyWith(b, "nope"); err == nil {
		t.Error("want error for unknown key")
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	keys := ValidKeys()
	infos := ShowAll(defaults())
	if len(keys) != len(infos) || len(keys) != 8 {
		t.Fatalf("keys = %d, infos = %d", len(keys), len(infos))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("info[%d].Key = %q, want %q", i, info.Key, keys[i])
		}
		if !strings.HasPrefix(info.EnvVar, "MISSIONLOG_") {
			t.Errorf("%s env = %q", info.Key, info.EnvVar)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := defaults()
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		cfg.Log.Level = level
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}
