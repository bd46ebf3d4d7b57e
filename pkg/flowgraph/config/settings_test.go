package config_test

import (
	"testing"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := config.DefaultSettings()

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, []string{"*"}, s.Server.CORSOrigins)
	assert.Equal(t, 4096, s.LLM.MaxTokens)
	assert.Equal(t, 10*time.Second, s.LLM.ConnectTimeout)
	assert.Equal(t, 300*time.Second, s.LLM.ReadTimeout)
	assert.Equal(t, 5, s.Search.MaxResults)
	assert.Equal(t, config.BackendMemory, s.Storage.Checkpoint)
	assert.Equal(t, config.DriverSQLite, s.Storage.DatabaseDriver)
	assert.Equal(t, 3, s.Director.MaxRevisions)
	assert.Equal(t, 5*time.Second, s.Director.RevisionDelay)
	assert.Equal(t, 3*time.Second, s.Director.ReflectDelay)
	assert.Equal(t, 30*time.Second, s.Director.RetryBackoff)
	assert.Equal(t, 70, s.Director.PassingScore)
	assert.Equal(t, 15*time.Second, s.Research.LoopDelay)
	assert.Equal(t, 3*time.Second, s.Research.WriteDelay)
	assert.Equal(t, 3, s.Research.MaxLoops)
	assert.Equal(t, 4, s.Background.MaxConcurrent)
	assert.False(t, s.OTel.Enabled)
	require.NoError(t, s.Validate())
}

func TestSettingsFrom_EmptyConfigMatchesDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultSettings(), config.SettingsFrom(config.New(nil)))
}

func TestSettingsFrom_Overrides(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  addr: ":9000"
  cors_origins: "http://a.test,http://b.test"
llm:
  api_key: sk-file
  requests_per_second: 0.5
storage:
  checkpoint: redis
  database_driver: postgres
  database_dsn: "host=db user=crew dbname=crew"
redis:
  addr: "redis:6379"
  db: 1
director:
  max_revisions: 2
  revision_delay: 0
research:
  loop_delay: 1ms
background:
  max_concurrent: 8
sink:
  slack_webhook_url: "https://hooks.slack.test/T1"
log:
  level: debug
  format: json
otel:
  enabled: true
  endpoint: "collector:4317"
`), config.YAML)
	require.NoError(t, err)

	s := config.SettingsFrom(cfg.WithEnv(config.EnvPrefix, []string{"CREWFLOW_LLM__API_KEY=sk-env"}))

	assert.Equal(t, ":9000", s.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, s.Server.CORSOrigins)
	assert.Equal(t, "sk-env", s.LLM.APIKey)
	assert.Equal(t, 0.5, s.LLM.RequestsPerSecond)
	assert.Equal(t, config.BackendRedis, s.Storage.Checkpoint)
	assert.Equal(t, config.DriverPostgres, s.Storage.DatabaseDriver)
	assert.Equal(t, "host=db user=crew dbname=crew", s.Storage.DatabaseDSN)
	assert.Equal(t, "redis:6379", s.Redis.Addr)
	assert.Equal(t, 1, s.Redis.DB)
	assert.Equal(t, 2, s.Director.MaxRevisions)
	assert.Equal(t, time.Duration(0), s.Director.RevisionDelay)
	assert.Equal(t, time.Millisecond, s.Research.LoopDelay)
	assert.Equal(t, 8, s.Background.MaxConcurrent)
	assert.Equal(t, "https://hooks.slack.test/T1", s.Sink.SlackWebhookURL)
	assert.Equal(t, "json", s.Log.Format)
	assert.True(t, s.OTel.Enabled)
	assert.Equal(t, "collector:4317", s.OTel.Endpoint)
	require.NoError(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	s := config.DefaultSettings()
	s.Server.Addr = ""
	s.LLM.MaxTokens = 0
	s.Storage.Checkpoint = "postgres"
	s.Storage.DatabaseDriver = "mysql"
	s.Director.MaxRevisions = 0
	s.Director.PassingScore = 101
	s.Research.MaxLoops = 0
	s.Background.MaxConcurrent = 0

	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"server.addr",
		"llm.max_tokens",
		`got "postgres"`,
		`got "mysql"`,
		"director.max_revisions",
		"director.passing_score",
		"research.max_loops",
		"background.max_concurrent",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
