package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Checkpoint backends accepted by Settings.Storage.Checkpoint.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Database drivers accepted by Settings.Storage.DatabaseDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings is the typed view of a crewflow configuration file.
type Settings struct {
	Server     ServerSettings
	LLM        LLMSettings
	Search     SearchSettings
	Storage    StorageSettings
	Redis      RedisSettings
	Director   DirectorSettings
	Research   ResearchSettings
	Background BackgroundSettings
	Sink       SinkSettings
	Log        LogSettings
	OTel       OTelSettings
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// LLMSettings configures the Anthropic Messages client.
type LLMSettings struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// RequestsPerSecond is the client-side limiter rate; 0 disables it.
	RequestsPerSecond float64
	Burst             int
}

// SearchSettings configures the Tavily search client.
type SearchSettings struct {
	TavilyAPIKey string
	BaseURL      string
	MaxResults   int
}

// StorageSettings selects persistence backends.
type StorageSettings struct {
	Checkpoint string
	SQLitePath string
	// DatabaseDriver and DatabaseDSN select the gorm database holding
	// approvals, executions and notifications.
	DatabaseDriver string
	DatabaseDSN    string
}

// RedisSettings configures the shared Redis client.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// DirectorSettings configures the generate/reflect loop.
type DirectorSettings struct {
	MaxRevisions     int
	RevisionDelay    time.Duration
	ReflectDelay     time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration
	RetryMaxBackoff  time.Duration
	PassingScore     int
	ApprovalRequired bool
}

// ResearchSettings configures the search/write loop.
type ResearchSettings struct {
	LoopDelay  time.Duration
	WriteDelay time.Duration
	MaxLoops   int
}

// BackgroundSettings configures the execution tracker.
type BackgroundSettings struct {
	MaxConcurrent int
}

// SinkSettings configures output delivery after approval.
type SinkSettings struct {
	// SlackWebhookURL routes slack outputs to an incoming webhook
	// instead of the log.
	SlackWebhookURL string
}

// LogSettings configures the slog handler.
type LogSettings struct {
	Level  string
	Format string
}

// OTelSettings configures OTLP export.
type OTelSettings struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// DefaultSettings returns the settings used when a key is absent.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMSettings{
			BaseURL:           "https://api.anthropic.com",
			Model:             "claude-sonnet-4-5",
			MaxTokens:         4096,
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       300 * time.Second,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Search: SearchSettings{
			BaseURL:    "https://api.tavily.com",
			MaxResults: 5,
		},
		Storage: StorageSettings{
			Checkpoint:     BackendMemory,
			SQLitePath:     "crewflow-checkpoints.db",
			DatabaseDriver: DriverSQLite,
			DatabaseDSN:    "crewflow.db",
		},
		Redis: RedisSettings{
			Addr: "localhost:6379",
		},
		Director: DirectorSettings{
			MaxRevisions:    3,
			RevisionDelay:   5 * time.Second,
			ReflectDelay:    3 * time.Second,
			RetryAttempts:   3,
			RetryBackoff:    30 * time.Second,
			RetryMaxBackoff: 2 * time.Minute,
			PassingScore:    70,
		},
		Research: ResearchSettings{
			LoopDelay:  15 * time.Second,
			WriteDelay: 3 * time.Second,
			MaxLoops:   3,
		},
		Background: BackgroundSettings{
			MaxConcurrent: 4,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		OTel: OTelSettings{
			Endpoint:    "localhost:4317",
			ServiceName: "crewflow",
			Insecure:    true,
		},
	}
}

// SettingsFrom reads Settings from cfg, falling back to DefaultSettings
// for every absent key.
func SettingsFrom(cfg Config) Settings {
	d := DefaultSettings()
	return Settings{
		Server: ServerSettings{
			Addr:            cfg.String("server.addr", d.Server.Addr),
			CORSOrigins:     cfg.StringSlice("server.cors_origins", d.Server.CORSOrigins),
			ShutdownTimeout: cfg.Duration("server.shutdown_timeout", d.Server.ShutdownTimeout),
		},
		LLM: LLMSettings{
			BaseURL:           cfg.String("llm.base_url", d.LLM.BaseURL),
			APIKey:            cfg.String("llm.api_key", d.LLM.APIKey),
			Model:             cfg.String("llm.model", d.LLM.Model),
			MaxTokens:         cfg.Int("llm.max_tokens", d.LLM.MaxTokens),
			ConnectTimeout:    cfg.Duration("llm.connect_timeout", d.LLM.ConnectTimeout),
			ReadTimeout:       cfg.Duration("llm.read_timeout", d.LLM.ReadTimeout),
			RequestsPerSecond: cfg.Float("llm.requests_per_second", d.LLM.RequestsPerSecond),
			Burst:             cfg.Int("llm.burst", d.LLM.Burst),
		},
		Search: SearchSettings{
			TavilyAPIKey: cfg.String("search.tavily_api_key", d.Search.TavilyAPIKey),
			BaseURL:      cfg.String("search.base_url", d.Search.BaseURL),
			MaxResults:   cfg.Int("search.max_results", d.Search.MaxResults),
		},
		Storage: StorageSettings{
			Checkpoint:     cfg.String("storage.checkpoint", d.Storage.Checkpoint),
			SQLitePath:     cfg.String("storage.sqlite_path", d.Storage.SQLitePath),
			DatabaseDriver: cfg.String("storage.database_driver", d.Storage.DatabaseDriver),
			DatabaseDSN:    cfg.String("storage.database_dsn", d.Storage.DatabaseDSN),
		},
		Redis: RedisSettings{
			Addr:     cfg.String("redis.addr", d.Redis.Addr),
			Password: cfg.String("redis.password", d.Redis.Password),
			DB:       cfg.Int("redis.db", d.Redis.DB),
		},
		Director: DirectorSettings{
			MaxRevisions:     cfg.Int("director.max_revisions", d.Director.MaxRevisions),
			RevisionDelay:    cfg.Duration("director.revision_delay", d.Director.RevisionDelay),
			ReflectDelay:     cfg.Duration("director.reflect_delay", d.Director.ReflectDelay),
			RetryAttempts:    cfg.Int("director.retry_attempts", d.Director.RetryAttempts),
			RetryBackoff:     cfg.Duration("director.retry_backoff", d.Director.RetryBackoff),
			RetryMaxBackoff:  cfg.Duration("director.retry_max_backoff", d.Director.RetryMaxBackoff),
			PassingScore:     cfg.Int("director.passing_score", d.Director.PassingScore),
			ApprovalRequired: cfg.Bool("director.approval_required", d.Director.ApprovalRequired),
		},
		Research: ResearchSettings{
			LoopDelay:  cfg.Duration("research.loop_delay", d.Research.LoopDelay),
			WriteDelay: cfg.Duration("research.write_delay", d.Research.WriteDelay),
			MaxLoops:   cfg.Int("research.max_loops", d.Research.MaxLoops),
		},
		Background: BackgroundSettings{
			MaxConcurrent: cfg.Int("background.max_concurrent", d.Background.MaxConcurrent),
		},
		Sink: SinkSettings{
			SlackWebhookURL: cfg.String("sink.slack_webhook_url", d.Sink.SlackWebhookURL),
		},
		Log: LogSettings{
			Level:  cfg.String("log.level", d.Log.Level),
			Format: cfg.String("log.format", d.Log.Format),
		},
		OTel: OTelSettings{
			Enabled:     cfg.Bool("otel.enabled", d.OTel.Enabled),
			Endpoint:    cfg.String("otel.endpoint", d.OTel.Endpoint),
			ServiceName: cfg.String("otel.service_name", d.OTel.ServiceName),
			Insecure:    cfg.Bool("otel.insecure", d.OTel.Insecure),
		},
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if s.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if s.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", s.LLM.MaxTokens))
	}
	if s.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second must not be negative, got %v", s.LLM.RequestsPerSecond))
	}
	if !slices.Contains([]string{BackendMemory, BackendSQLite, BackendRedis}, s.Storage.Checkpoint) {
		errs = append(errs, fmt.Errorf("storage.checkpoint must be memory, sqlite or redis, got %q", s.Storage.Checkpoint))
	}
	if !slices.Contains([]string{DriverSQLite, DriverPostgres}, s.Storage.DatabaseDriver) {
		errs = append(errs, fmt.Errorf("storage.database_driver must be sqlite or postgres, got %q", s.Storage.DatabaseDriver))
	}
	if s.Director.MaxRevisions < 1 {
		errs = append(errs, fmt.Errorf("director.max_revisions must be at least 1, got %d", s.Director.MaxRevisions))
	}
	if s.Director.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("director.retry_attempts must be at least 1, got %d", s.Director.RetryAttempts))
	}
	if s.Director.PassingScore < 0 || s.Director.PassingScore > 100 {
		errs = append(errs, fmt.Errorf("director.passing_score must be within 0..100, got %d", s.Director.PassingScore))
	}
	if s.Research.MaxLoops < 1 {
		errs = append(errs, fmt.Errorf("research.max_loops must be at least 1, got %d", s.Research.MaxLoops))
	}
	if s.Background.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("background.max_concurrent must be at least 1, got %d", s.Background.MaxConcurrent))
	}
	return errors.Join(errs...)
}
