package config

import (
	"log/slog"
	"time"
)

type Config struct {
	API        APIConfig
	Storage    StorageConfig
	Editor     EditorConfig
	Effects    EffectsConfig
	Projection ProjectionConfig
	Log        LogConfig
}

type APIConfig struct {
	BaseURL string
	Timeout string
}

type StorageConfig struct {
	DataDir string
}

type EditorConfig struct {
	AutosaveDelay string
}

type EffectsConfig struct {
	XPPopLifetime   string
	LevelUpLifetime string
}

type ProjectionConfig struct {
	GridDays int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: "30s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Editor: EditorConfig{
			AutosaveDelay: "3s",
		},
		Effects: EffectsConfig{
			XPPopLifetime:   "1s",
			LevelUpLifetime: "4s",
		},
		Projection: ProjectionConfig{
			GridDays: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.missionlog.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/missionlog/config.json.
//
// Environment variables (MISSIONLOG_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Durations are the parsed duration settings.
type Durations struct {
	APITimeout      time.Duration
	AutosaveDelay   time.Duration
	XPPopLifetime   time.Duration
	LevelUpLifetime time.Duration
}

// Durations parses the duration keys. A value that does not parse, or is
// not positive, falls back to its default with a warning.
func (c Config) Durations() Durations {
	def := defaults()
	return Durations{
		APITimeout:      parseDuration("api.timeout", c.API.Timeout, def.API.Timeout),
		AutosaveDelay:   parseDuration("editor.autosave_delay", c.Editor.AutosaveDelay, def.Editor.AutosaveDelay),
		XPPopLifetime:   parseDuration("effects.xp_pop_lifetime", c.Effects.XPPopLifetime, def.Effects.XPPopLifetime),
		LevelUpLifetime: parseDuration("effects.level_up_lifetime", c.Effects.LevelUpLifetime, def.Effects.LevelUpLifetime),
	}
}

func parseDuration(key, raw, fallback string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err == nil && d > 0 {
		return d
	}
	slog.Warn("invalid duration in config, using default", "key", key, "value", raw, "default", fallback)
	d, _ = time.ParseDuration(fallback)
	return d
}

// SlogLevel maps log.level to a slog.Level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
