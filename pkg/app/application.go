package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/uicase/internal/agent"
	"github.com/osvaldoandrade/uicase/internal/artifacts"
	"github.com/osvaldoandrade/uicase/internal/backoff"
	"github.com/osvaldoandrade/uicase/internal/llm"
	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/internal/middleware"
	"github.com/osvaldoandrade/uicase/internal/providers"
	"github.com/osvaldoandrade/uicase/internal/ratelimit"
	"github.com/osvaldoandrade/uicase/internal/report"
	"github.com/osvaldoandrade/uicase/internal/services"
	"github.com/osvaldoandrade/uicase/internal/tracing"
	"github.com/osvaldoandrade/uicase/pkg/auth"
	"github.com/osvaldoandrade/uicase/pkg/config"
	"github.com/osvaldoandrade/uicase/pkg/persistence"
	_ "github.com/osvaldoandrade/uicase/pkg/persistence/memory" // Register in-memory run history
	_ "github.com/osvaldoandrade/uicase/pkg/persistence/redis"  // Register redis run history

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Runs        services.RunService
	Webhooks    services.ResultCallbackService
	Runner      agent.Runner
	Logger      *slog.Logger
	TZ          *time.Location
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	Redis       *redis.Client
	Persistence persistence.PluginPersistence

	TracingShutdown func(context.Context) error

	ownsRedis bool
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithRunner replaces the agent runner built from config.
func WithRunner(runner agent.Runner) ApplicationOption {
	return func(app *Application) error {
		app.Runner = runner
		return nil
	}
}

// WithRedis reuses an existing client instead of dialing cfg.RedisAddr.
func WithRedis(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{
		Config: cfg,
		Logger: logger,
		TZ:     loc,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	runTTL := time.Duration(cfg.RunTTLSeconds) * time.Second
	if app.Redis == nil && cfg.PersistenceProvider != "memory" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		app.ownsRedis = true
	}
	if app.Redis != nil {
		metrics.RegisterRedisCollector(app.Redis, runTTL, logger)
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)
	} else {
		logger.Warn("running without redis; rate limiting disabled")
	}

	rawPersistence, err := cfg.PersistenceConfigJSON()
	if err != nil {
		return nil, err
	}
	store, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: cfg.PersistenceProvider, Config: rawPersistence},
		persistence.PluginConfig{RunTTL: runTTL, Redis: app.Redis},
	)
	if err != nil {
		return nil, err
	}
	app.Persistence = store

	if app.Runner == nil {
		runner, err := agent.New(agentConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		app.Runner = runner
	}
	logger.Info("agent runner ready", "transport", app.Runner.Name(), "available", app.Runner.Available())

	normalizer := artifacts.NewNormalizer(
		providers.NewLocalUploader(cfg.ScreenshotsDir),
		time.Duration(cfg.ScreenshotFetchTimeoutSeconds)*time.Second,
		logger,
		time.Now,
	)
	renderer := report.NewRenderer(cfg.ReportsDir, time.Now)
	policy, err := backoff.ParsePolicy(cfg.ResultWebhookBackoffPolicy)
	if err != nil {
		return nil, err
	}
	app.Webhooks = services.NewResultCallbackService(
		logger,
		cfg.ResultWebhookURL,
		cfg.WebhookHmacSecret,
		cfg.ResultWebhookMaxAttempts,
		backoff.NewSchedule(policy,
			time.Duration(cfg.ResultWebhookBaseBackoffSeconds)*time.Second,
			time.Duration(cfg.ResultWebhookMaxBackoffSeconds)*time.Second,
			time.Now().UnixNano(),
		),
		app.RateLimiter,
		ratelimit.Bucket(cfg.RateLimit.Webhook),
	)
	app.Runs = services.NewRunService(app.Runner, normalizer, renderer, store.RunStorage(), app.Webhooks, logger, time.Now)

	if app.Validator == nil && cfg.AuthProvider != "" {
		raw, err := cfg.AuthConfigJSON()
		if err != nil {
			return nil, err
		}
		validator, err := auth.NewValidator(auth.ProviderConfig{
			Type:   cfg.AuthProvider,
			Config: raw,
		})
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(),
		middleware.CORSMiddleware(),
	)
	app.Engine = engine

	return app, nil
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Transport:      cfg.Agent.Transport,
		Library:        cfg.Agent.Library,
		HTTPBase:       cfg.Agent.HTTPBase,
		HTTPRunPath:    cfg.Agent.HTTPRunPath,
		HTTPTimeout:    time.Duration(cfg.Agent.HTTPTimeoutSeconds) * time.Second,
		HTTPAuthHeader: cfg.Agent.HTTPAuthHeader,
		CDPURL:         cfg.Agent.CDPURL,
		DefaultModel:   cfg.Agent.DefaultModel,
		LLM: llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "uicase", "env", cfg.Env)
}

// Close drains pending result webhooks, flushes spans and releases storage.
// It returns ctx.Err() when webhooks were still in flight at the deadline;
// the remaining resources are released either way.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	if app.Webhooks != nil {
		drained := make(chan struct{})
		go func() {
			app.Webhooks.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			app.Logger.Warn("result webhooks still in flight at shutdown")
			errs = append(errs, ctx.Err())
		}
	}
	if app.TracingShutdown != nil {
		errs = append(errs, app.TracingShutdown(ctx))
	}
	if app.Persistence != nil {
		errs = append(errs, app.Persistence.Close())
	}
	if app.Redis != nil && app.ownsRedis {
		errs = append(errs, app.Redis.Close())
	}
	return errors.Join(errs...)
}
