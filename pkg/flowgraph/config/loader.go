package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables Load overlays.
const EnvPrefix = "CREWFLOW_"

// Format names a config encoding.
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", ext)
	}
}

// Parse decodes a document in format f. An empty document is an empty Config.
func Parse(data []byte, f Format) (Config, error) {
	var (
		m   map[string]any
		err error
	)
	switch f {
	case YAML:
		err = yaml.Unmarshal(data, &m)
	case JSON:
		err = json.Unmarshal(data, &m)
	default:
		return Config{}, fmt.Errorf("unknown config format %q", f)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s config: %w", f, err)
	}
	return New(m), nil
}

// ReadFile parses the file at path in the format its extension names.
func ReadFile(path string) (Config, error) {
	f, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, f)
}

// WithEnv overlays environment entries ("KEY=value") that start with prefix.
// After the prefix, "__" separates path segments and the rest is lowercased:
// CREWFLOW_LLM__API_KEY sets llm.api_key. Values stay strings; the typed
// accessors parse them.
func (c Config) WithEnv(prefix string, environ []string) Config {
	out := c
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		if name == "" {
			continue
		}
		out = out.With(strings.ReplaceAll(name, "__", "."), value)
	}
	return out
}

// Load reads path (skipped when empty) and overlays CREWFLOW_ environment
// variables.
func Load(path string) (Config, error) {
	cfg := New(nil)
	if path != "" {
		var err error
		if cfg, err = ReadFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg.WithEnv(EnvPrefix, os.Environ()), nil
}
