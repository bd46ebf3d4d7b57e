package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/background"
	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/config"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/signal"
	"github.com/randalmurphal/crewflow/pkg/notify"
	"github.com/randalmurphal/crewflow/pkg/research"
	"github.com/randalmurphal/crewflow/pkg/sink"
)

// app is the wired process: storage, model client and workflows.
type app struct {
	settings config.Settings
	logger   *slog.Logger

	telemetry   *telemetry
	redis       *redis.Client
	checkpoints checkpoint.Store
	signals     signal.Set
	client      llm.Client

	director *director.Workflow
	research *research.Workflow

	closers []func(context.Context) error
}

// newApp wires the core of the process. A nil client builds the Anthropic
// client from settings.
func newApp(ctx context.Context, s config.Settings, logger *slog.Logger, client llm.Client) (a *app, err error) {
	a = &app{settings: s, logger: logger, client: client}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.telemetry, err = initTelemetry(ctx, s.OTel, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	if err = a.openCheckpoints(ctx); err != nil {
		return nil, err
	}

	if a.client == nil {
		if s.LLM.APIKey == "" {
			return nil, errors.New("llm.api_key is required (set CREWFLOW_LLM__API_KEY)")
		}
		a.client = llm.NewAnthropicClient(
			llm.WithBaseURL(s.LLM.BaseURL),
			llm.WithAPIKey(s.LLM.APIKey),
			llm.WithModel(s.LLM.Model),
			llm.WithMaxTokens(s.LLM.MaxTokens),
			llm.WithTimeouts(s.LLM.ConnectTimeout, s.LLM.ReadTimeout),
			llm.WithRateLimit(s.LLM.RequestsPerSecond, s.LLM.Burst),
			llm.WithLogger(logger),
		)
	}

	runOpts := []flowgraph.RunOption{flowgraph.WithSpanManager(a.telemetry.spans)}
	a.director, err = director.NewWorkflow(a.client,
		director.WithCheckpointer(a.checkpoints),
		director.WithRetry(fgerrors.RetryConfig{
			MaxAttempts:    s.Director.RetryAttempts,
			InitialBackoff: s.Director.RetryBackoff,
			MaxBackoff:     s.Director.RetryMaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         0.1,
		}),
		director.WithDelays(s.Director.RevisionDelay, s.Director.ReflectDelay),
		director.WithPassingScore(s.Director.PassingScore),
		director.WithLogger(logger),
		director.WithMetrics(a.telemetry.metrics),
		director.WithRunOptions(runOpts...),
	)
	if err != nil {
		return nil, err
	}

	a.research, err = research.NewWorkflow(a.client, a.searcher(),
		research.WithMaxLoops(s.Research.MaxLoops),
		research.WithMaxResults(s.Search.MaxResults),
		research.WithDelays(s.Research.LoopDelay, s.Research.WriteDelay),
		research.WithLogger(logger),
		research.WithMetrics(a.telemetry.metrics),
		research.WithRunOptions(runOpts...),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openCheckpoints selects the checkpoint backend. The Redis backend also
// carries the cancellation set so every process sees the same marks.
func (a *app) openCheckpoints(ctx context.Context) error {
	s := a.settings
	a.signals = signal.NewMemorySet()

	switch s.Storage.Checkpoint {
	case config.BackendSQLite:
		store, err := checkpoint.NewSQLiteStore(s.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite checkpoints: %w", err)
		}
		a.checkpoints = store
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error {
			if err := a.redis.Close(); !errors.Is(err, redis.ErrClosed) {
				return err
			}
			return nil
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", s.Redis.Addr, err)
		}
		a.checkpoints = checkpoint.NewRedisStore(a.redis)
		a.signals = signal.NewRedisSet(a.redis)
	default:
		a.logger.Warn("checkpoints are kept in memory; parked runs do not survive a restart")
		a.checkpoints = checkpoint.NewMemoryStore()
	}
	store := a.checkpoints
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	a.logger.Info("checkpoint store ready", slog.String("backend", s.Storage.Checkpoint))
	return nil
}

// searcher returns the Tavily client, or a searcher that finds nothing
// when no key is configured.
func (a *app) searcher() research.Searcher {
	if a.settings.Search.TavilyAPIKey == "" {
		a.logger.Warn("search.tavily_api_key not set; research runs without web evidence")
		return research.SearcherFunc(func(context.Context, string, int) []research.Evidence { return nil })
	}
	return research.NewTavilyClient(a.settings.Search.TavilyAPIKey,
		research.WithTavilyBaseURL(a.settings.Search.BaseURL),
		research.WithTavilyLogger(a.logger))
}

// services are the stateful layers behind the HTTP surface.
type services struct {
	approvals *approval.Service
	tracker   *background.Tracker
	notifier  *notify.Notifier
	sinks     *sink.Registry
}

// openServices opens the database, migrates it and wires the approval,
// background and notification services over the shared event bus.
func (a *app) openServices(ctx context.Context) (*services, error) {
	db, err := openDatabase(a.settings.Storage, a.logger)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })
	}

	approvalStore := approval.NewGormStore(db)
	execStore := background.NewGormStore(db)
	notifyStore := notify.NewGormStore(db)
	for name, m := range map[string]interface{ Migrate(context.Context) error }{
		"approval":   approvalStore,
		"background": execStore,
		"notify":     notifyStore,
	} {
		if err := m.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
	}

	bus := event.NewBus(event.BusConfig{Logger: a.logger})
	a.closers = append(a.closers, func(context.Context) error { return bus.Close() })

	notifier := notify.NewNotifier(notifyStore, notify.WithLogger(a.logger))
	if _, err := notifier.Attach(bus); err != nil {
		return nil, fmt.Errorf("attach notifier: %w", err)
	}

	tracker := background.NewTracker(execStore, a.signals, a.director,
		background.WithMaxConcurrent(a.settings.Background.MaxConcurrent),
		background.WithPublisher(bus),
		background.WithLogger(a.logger))
	// Close the tracker before the bus so its final events are delivered.
	a.closers = append(a.closers, tracker.Close)

	recovered, err := tracker.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover executions: %w", err)
	}
	if recovered > 0 {
		a.logger.Warn("settled executions interrupted by a restart", slog.Int("count", recovered))
	}

	sinks := sink.Default(a.logger)
	if url := a.settings.Sink.SlackWebhookURL; url != "" {
		sinks.Register(sink.KindSlack, sink.SlackWebhook(url, nil))
	}

	return &services{
		approvals: approval.NewService(approvalStore, a.director,
			approval.WithPublisher(bus),
			approval.WithLogger(a.logger)),
		tracker:  tracker,
		notifier: notifier,
		sinks:    sinks,
	}, nil
}

func openDatabase(s config.StorageSettings, logger *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch s.DatabaseDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(s.DatabaseDSN)
	case config.DriverSQLite, "":
		dialector = sqlite.Open(s.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", s.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if s.DatabaseDriver != config.DriverPostgres {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	logger.Info("database connected", slog.String("driver", s.DatabaseDriver))
	return db, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
