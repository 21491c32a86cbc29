package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

// keySpec binds a dotted key to its Config field. Every value travels as a
// string; decode turns it into the field's type.
type keySpec struct {
	key      string
	typ      keyType
	env      string
	validate func(string) error
	assign   func(cfg *Config, v any)
	read     func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "MISSIONLOG_API_BASE_URL",
		validate: validateBaseURL,
		assign:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		read:     func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.timeout", typ: kDuration, env: "MISSIONLOG_API_TIMEOUT",
		assign: func(cfg *Config, v any) { cfg.API.Timeout = v.(string) },
		read:   func(cfg Config) any { return cfg.API.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MISSIONLOG_STORAGE_DATA_DIR",
		assign: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		read:   func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "editor.autosave_delay", typ: kDuration, env: "MISSIONLOG_EDITOR_AUTOSAVE_DELAY",
		assign: func(cfg *Config, v any) { cfg.Editor.AutosaveDelay = v.(string) },
		read:   func(cfg Config) any { return cfg.Editor.AutosaveDelay },
	},
	{
		key: "effects.xp_pop_lifetime", typ: kDuration, env: "MISSIONLOG_EFFECTS_XP_POP_LIFETIME",
		assign: func(cfg *Config, v any) { cfg.Effects.XPPopLifetime = v.(string) },
		read:   func(cfg Config) any { return cfg.Effects.XPPopLifetime },
	},
	{
		key: "effects.level_up_lifetime", typ: kDuration, env: "MISSIONLOG_EFFECTS_LEVEL_UP_LIFETIME",
		assign: func(cfg *Config, v any) { cfg.Effects.LevelUpLifetime = v.(string) },
		read:   func(cfg Config) any { return cfg.Effects.LevelUpLifetime },
	},
	{
		key: "projection.grid_days", typ: kInt, env: "MISSIONLOG_PROJECTION_GRID_DAYS",
		assign: func(cfg *Config, v any) { cfg.Projection.GridDays = v.(int) },
		read:   func(cfg Config) any { return cfg.Projection.GridDays },
	},
	{
		key: "log.level", typ: kString, env: "MISSIONLOG_LOG_LEVEL",
		validate: validateLogLevel,
		assign:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		read:     func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// decode checks raw against the key's type and validator. Integers and
// durations must be positive.
func (s keySpec) decode(raw string) (any, error) {
	if s.validate != nil {
		if err := s.validate(raw); err != nil {
			return nil, err
		}
	}
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		if i <= 0 {
			return nil, fmt.Errorf("invalid integer %d: must be positive", i)
		}
		return i, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid duration %q: must be positive", raw)
		}
	}
	return raw, nil
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		if s.typ == kDuration {
			// Bad durations fall back in Durations(), so keep them visible here.
			s.assign(cfg, raw)
			continue
		}
		v, err := s.decode(raw)
		if err != nil {
			slog.Warn("ignoring stored config value", "key", s.key, "error", err)
			continue
		}
		s.assign(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if s.typ != kInt {
			s.assign(cfg, raw)
			continue
		}
		v, err := s.decode(raw)
		if err != nil {
			slog.Warn("ignoring env override", "env", s.env, "error", err)
			continue
		}
		s.assign(cfg, v)
	}
}
