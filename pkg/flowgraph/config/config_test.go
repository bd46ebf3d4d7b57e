package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/config"
)

func TestNew_NilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.False(t, cfg.Has("anything"))
	assert.Equal(t, "x", cfg.String("anything", "x"))
}

func TestString(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":   "crewflow",
		"number": 42,
		"llm":    map[string]any{"model": "sonnet"},
	})

	assert.Equal(t, "crewflow", cfg.String("name", "x"))
	assert.Equal(t, "sonnet", cfg.String("llm.model", "x"))
	assert.Equal(t, "x", cfg.String("number", "x"))
	assert.Equal(t, "x", cfg.String("llm.missing", "x"))
	assert.Equal(t, "x", cfg.String("name.deeper", "x"))
}

func TestLookup_ExactKeyWins(t *testing.T) {
	cfg := config.New(map[string]any{
		"llm.model": "flat",
		"llm":       map[string]any{"model": "nested"},
	})
	assert.Equal(t, "flat", cfg.String("llm.model", ""))
}

func TestDuration(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"duration string", "1m30s", 90 * time.Second},
		{"numeric string", "15", 15 * time.Second},
		{"fractional string", "0.5", 500 * time.Millisecond},
		{"int seconds", 3, 3 * time.Second},
		{"int64 seconds", int64(4), 4 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"native duration", 7 * time.Millisecond, 7 * time.Millisecond},
		{"invalid string", "soon", time.Hour},
		{"bool", true, time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tc.value})
			assert.Equal(t, tc.want, cfg.Duration("d", time.Hour))
		})
	}
	assert.Equal(t, time.Hour, config.New(nil).Duration("d", time.Hour))
}

func TestBool(t *testing.T) {
	cfg := config.New(map[string]any{
		"native": true,
		"str":    "false",
		"one":    "1",
		"junk":   "maybe",
		"num":    1,
	})

	assert.True(t, cfg.Bool("native", false))
	assert.False(t, cfg.Bool("str", true))
	assert.True(t, cfg.Bool("one", false))
	assert.True(t, cfg.Bool("junk", true))
	assert.False(t, cfg.Bool("num", false))
}

func TestInt(t *testing.T) {
	cfg := config.New(map[string]any{
		"int":      3,
		"int64":    int64(4),
		"whole":    5.0,
		"fraction": 5.5,
		"str":      "6",
		"bad":      "six",
	})

	assert.Equal(t, 3, cfg.Int("int", 0))
	assert.Equal(t, 4, cfg.Int("int64", 0))
	assert.Equal(t, 5, cfg.Int("whole", 0))
	assert.Equal(t, -1, cfg.Int("fraction", -1))
	assert.Equal(t, 6, cfg.Int("str", 0))
	assert.Equal(t, -1, cfg.Int("bad", -1))
}

func TestFloat(t *testing.T) {
	cfg := config.New(map[string]any{
		"f":   0.25,
		"i":   2,
		"i64": int64(3),
		"s":   "1.5",
		"bad": []int{1},
	})

	assert.Equal(t, 0.25, cfg.Float("f", 0))
	assert.Equal(t, 2.0, cfg.Float("i", 0))
	assert.Equal(t, 3.0, cfg.Float("i64", 0))
	assert.Equal(t, 1.5, cfg.Float("s", 0))
	assert.Equal(t, 9.0, cfg.Float("bad", 9))
}

func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"native": []string{"a", "b"},
		"any":    []any{"c", "d"},
		"mixed":  []any{"e", 1},
		"csv":    "http://a.test, http://b.test,,",
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("native", nil))
	assert.Equal(t, []string{"c", "d"}, cfg.StringSlice("any", nil))
	assert.Equal(t, []string{"z"}, cfg.StringSlice("mixed", []string{"z"}))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.StringSlice("csv", nil))
	assert.Nil(t, cfg.StringSlice("missing", nil))
}

func TestHas(t *testing.T) {
	cfg := config.New(map[string]any{
		"redis": map[string]any{"addr": "localhost:6379", "db": 2},
	})

	assert.True(t, cfg.Has("redis"))
	assert.True(t, cfg.Has("redis.addr"))
	assert.False(t, cfg.Has("redis.password"))
	assert.False(t, cfg.Has("redis.addr.host"))
}

func TestWith_DoesNotModifyReceiver(t *testing.T) {
	original := config.New(map[string]any{
		"llm": map[string]any{"model": "a"},
	})

	updated := original.With("llm.model", "b").With("llm.api_key", "k").With("new.deep.key", 1)

	assert.Equal(t, "a", original.String("llm.model", ""))
	assert.False(t, original.Has("llm.api_key"))
	assert.Equal(t, "b", updated.String("llm.model", ""))
	assert.Equal(t, "k", updated.String("llm.api_key", ""))
	assert.Equal(t, 1, updated.Int("new.deep.key", 0))
}

func TestWith_ReplacesScalarWithSection(t *testing.T) {
	cfg := config.New(map[string]any{"llm": "flat"}).With("llm.model", "m")
	assert.Equal(t, "m", cfg.String("llm.model", ""))
}

func TestParse_YAML(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "nested sections",
			input: `
server:
  addr: ":9090"
  cors_origins: [http://localhost:3000]
director:
  max_revisions: 5
  revision_delay: 2s
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":9090", cfg.String("server.addr", ""))
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.StringSlice("server.cors_origins", nil))
				assert.Equal(t, 5, cfg.Int("director.max_revisions", 0))
				assert.Equal(t, 2*time.Second, cfg.Duration("director.revision_delay", 0))
			},
		},
		{
			name:  "empty document",
			input: "",
			check: func(t *testing.T, cfg config.Config) {
				assert.False(t, cfg.Has("server"))
			},
		},
		{
			name:    "invalid",
			input:   "server: [unclosed",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tc.input), config.YAML)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "parse yaml config")
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestParse_JSON(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"llm":{"max_tokens":1024,"read_timeout":"5m"}}`), config.JSON)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Int("llm.max_tokens", 0))
	assert.Equal(t, 5*time.Minute, cfg.Duration("llm.read_timeout", 0))

	_, err = config.Parse([]byte(`{"llm":`), config.JSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse json config")

	_, err = config.Parse([]byte(`a = 1`), config.Format("toml"))
	assert.ErrorContains(t, err, "unknown config format")
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	testCases := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"yaml", write("a.yaml", "log:\n  level: debug\n"), ""},
		{"yml", write("b.YML", "log:\n  level: debug\n"), ""},
		{"json", write("c.json", `{"log":{"level":"debug"}}`), ""},
		{"unsupported", write("d.toml", `level = "debug"`), "unsupported config file extension"},
		{"missing", filepath.Join(dir, "nope.yaml"), "read config"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.ReadFile(tc.path)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.String("log.level", ""))
		})
	}
}

func TestWithEnv(t *testing.T) {
	base := config.New(map[string]any{
		"llm": map[string]any{"model": "file-model", "max_tokens": 100},
	})

	cfg := base.WithEnv(config.EnvPrefix, []string{
		"CREWFLOW_LLM__API_KEY=sk-test",
		"CREWFLOW_LLM__MAX_TOKENS=2048",
		"CREWFLOW_OTEL__ENABLED=true",
		"CREWFLOW_DIRECTOR__REVISION_DELAY=250ms",
		"CREWFLOW_=ignored",
		"OTHER_LLM__MODEL=ignored",
		"MALFORMED",
	})

	assert.Equal(t, "sk-test", cfg.String("llm.api_key", ""))
	assert.Equal(t, "file-model", cfg.String("llm.model", ""))
	assert.Equal(t, 2048, cfg.Int("llm.max_tokens", 0))
	assert.True(t, cfg.Bool("otel.enabled", false))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("director.revision_delay", 0))
	assert.Equal(t, 100, base.Int("llm.max_tokens", 0))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crewflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  checkpoint: sqlite\n"), 0o600))
	t.Setenv("CREWFLOW_STORAGE__SQLITE_PATH", "/tmp/cp.db")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.String("storage.checkpoint", ""))
	assert.Equal(t, "/tmp/cp.db", cfg.String("storage.sqlite_path", ""))

	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cp.db", cfg.String("storage.sqlite_path", ""))

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
