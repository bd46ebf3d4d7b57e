package config

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// Config is a read-only tree of settings decoded from YAML, JSON or the
// environment. Keys are dotted paths ("llm.api_key"). Every accessor takes
// a fallback that is returned when the key is missing or its value does
// not convert.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map gives an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup resolves a dotted key. An exact top-level key wins over a path.
func (c Config) lookup(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}
	var cur any = c.data
	for part := range strings.SplitSeq(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func get[T any](c Config, key string, fallback T, convert func(any) (T, bool)) T {
	if v, ok := c.lookup(key); ok {
		if out, ok := convert(v); ok {
			return out
		}
	}
	return fallback
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

func (c Config) String(key, fallback string) string {
	return get(c, key, fallback, func(v any) (string, bool) {
		s, ok := v.(string)
		return s, ok
	})
}

// Duration accepts a time.ParseDuration string, a bare number of seconds
// (as a string, int or float) or a time.Duration.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	return get(c, key, fallback, asDuration)
}

// Bool accepts a bool or any string strconv.ParseBool understands.
func (c Config) Bool(key string, fallback bool) bool {
	return get(c, key, fallback, func(v any) (bool, bool) {
		switch val := v.(type) {
		case bool:
			return val, true
		case string:
			b, err := strconv.ParseBool(val)
			return b, err == nil
		}
		return false, false
	})
}

// Int accepts integers, whole floats and base 10 strings.
func (c Config) Int(key string, fallback int) int {
	return get(c, key, fallback, func(v any) (int, bool) {
		switch val := v.(type) {
		case int:
			return val, true
		case int64:
			return int(val), true
		case float64:
			return int(val), val == float64(int(val))
		case string:
			i, err := strconv.Atoi(val)
			return i, err == nil
		}
		return 0, false
	})
}

func (c Config) Float(key string, fallback float64) float64 {
	return get(c, key, fallback, func(v any) (float64, bool) {
		switch val := v.(type) {
		case float64:
			return val, true
		case int:
			return float64(val), true
		case int64:
			return float64(val), true
		case string:
			f, err := strconv.ParseFloat(val, 64)
			return f, err == nil
		}
		return 0, false
	})
}

// StringSlice accepts a list of strings or a comma separated string, from
// which blank items are dropped. A list holding anything but strings falls
// back.
func (c Config) StringSlice(key string, fallback []string) []string {
	return get(c, key, fallback, func(v any) ([]string, bool) {
		switch val := v.(type) {
		case []string:
			return val, true
		case []any:
			out := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return out, true
		case string:
			var out []string
			for part := range strings.SplitSeq(val, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out, true
		}
		return nil, false
	})
}

func asDuration(v any) (time.Duration, bool) {
	seconds := func(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
	switch val := v.(type) {
	case time.Duration:
		return val, true
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d, true
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return seconds(f), true
		}
	case float64:
		return seconds(val), true
	case int:
		return time.Duration(val) * time.Second, true
	case int64:
		return time.Duration(val) * time.Second, true
	}
	return 0, false
}

// With returns a copy with the dotted key set to value. Maps along the path
// are copied, so c is unchanged.
func (c Config) With(key string, value any) Config {
	return Config{data: setPath(c.data, strings.Split(key, "."), value)}
}

func setPath(m map[string]any, path []string, value any) map[string]any {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]any)
	}
	if len(path) == 1 {
		out[path[0]] = value
		return out
	}
	child, _ := out[path[0]].(map[string]any)
	out[path[0]] = setPath(child, path[1:], value)
	return out
}
