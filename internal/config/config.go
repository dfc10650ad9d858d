// Package config loads tgblast's configuration file.
//
// Both JSON and YAML are accepted. YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both formats; a typo in a key is a
// load error, not a silently ignored setting.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Directory DirectoryConfig `json:"directory"`
	JobStore  JobStoreConfig  `json:"job_store"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerID is the operator's own chat id: the job initiator and the
	// preview-mode recipient.
	OwnerID int64 `json:"owner_id"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DirectoryConfig points at the bot's user database (read-only here).
type DirectoryConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// JobStoreConfig points at the broadcast job record database.
type JobStoreConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// BroadcastConfig overrides the built-in batching defaults. Command-line
// flags still win over these.
type BroadcastConfig struct {
	BatchSize  int    `json:"batch_size,omitempty"`
	BatchDelay string `json:"batch_delay,omitempty"` // Go duration string
	Retries    int    `json:"retries,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"` // Go duration string
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Load reads, decodes and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.OwnerID == 0 {
		return errors.New("telegram.owner_id is required")
	}
	if strings.TrimSpace(c.Directory.Path) == "" {
		return errors.New("directory.path is required")
	}
	if strings.TrimSpace(c.JobStore.Path) == "" {
		return errors.New("job_store.path is required")
	}
	// Durations are validated eagerly so a bad value fails at startup.
	for _, f := range []struct{ path, raw string }{
		{"directory.busy_timeout", c.Directory.BusyTimeout},
		{"job_store.busy_timeout", c.JobStore.BusyTimeout},
		{"broadcast.batch_delay", c.Broadcast.BatchDelay},
		{"broadcast.retry_base", c.Broadcast.RetryBase},
	} {
		if _, err := Duration(f.path, f.raw, 0); err != nil {
			return err
		}
	}
	return nil
}

// coerceToJSONBytes funnels a .yaml/.yml file through the YAML parser and
// re-encodes it as JSON; any other extension is treated as JSON already.
// The second return names the detected format for error messages.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", err
	}
	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, "yaml", err
	}
	return j, "yaml", nil
}

// stringifyKeys rewrites every map key to a string. YAML permits non-string
// keys; json.Marshal does not.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// Duration parses a Go duration string config field. An empty or zero value
// yields def; negative durations are rejected.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
