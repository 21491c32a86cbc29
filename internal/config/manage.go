package config

import (
	"errors"
	"fmt"
	"net/url"
)

// KeyInfo is one row of `config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, len(specs))
	for i, s := range specs {
		out[i] = KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.read(cfg))}
	}
	return out
}

// SetKey validates value and persists it to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func setKeyWith(b Backend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return unknownKey(key)
	}
	if _, err := s.decode(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Set(key, value)
}

func unsetKeyWith(b Backend, key string) error {
	if _, ok := lookupSpec(key); !ok {
		return unknownKey(key)
	}
	return b.Delete(key)
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns key names in display order.
func ValidKeys() []string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}

func validateBaseURL(v string) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateLogLevel(v string) error {
	switch v {
	case "debug", "info", "warn", "error":
		return nil
	}
	return errors.New("must be one of debug, info, warn, error")
}
