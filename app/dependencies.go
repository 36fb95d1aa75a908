package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/inference-router/config"
	"github.com/upb/inference-router/models"
	"github.com/upb/inference-router/services/breaker"
	"github.com/upb/inference-router/services/providers"
	"github.com/upb/inference-router/services/quota"
	"github.com/upb/inference-router/services/registry"
	"github.com/upb/inference-router/services/retry"
	"github.com/upb/inference-router/services/router"
	"github.com/upb/inference-router/services/scheduler"
	"github.com/upb/inference-router/services/usagelog"

	_ "github.com/lib/pq"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection: every component is built here
// from explicit constructors, never from package-level singletons.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	// DB is nil when usage persistence is disabled
	DB *sql.DB

	QuotaTracker *quota.Tracker
	Registry     *registry.Registry
	Router       *router.Router
	Scheduler    *scheduler.Scheduler
	UsageLog     *usagelog.Recorder
}

// NewDependencies creates and wires up all application dependencies.
// Provider invokers are injected by the caller, keeping provider SDKs out
// of the core.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, invokers map[string]providers.Invoker) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRegistry(cfg, invokers)
	deps.initRouter(cfg)
	deps.Scheduler = scheduler.New(deps.Registry, cfg.Scheduler.QuotaResetSchedule, logger)

	logger.Info("all dependencies initialized",
		zap.Int("models", deps.Registry.Count()),
		zap.Bool("usage_log", deps.UsageLog != nil))
	return deps, nil
}

// initDatabase opens the optional usage-log database
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, usage persistence disabled")
		return nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database ping failed (%s): %w", cfg.Database.LogString(), err)
	}

	d.DB = db
	d.UsageLog = usagelog.NewRecorder(db, d.Logger)
	d.Logger.Info("usage log database connected", zap.String("target", cfg.Database.LogString()))
	return nil
}

// initRegistry builds the model catalog from configuration, appending the
// indestructible local fallback descriptor after the configured models
func (d *Dependencies) initRegistry(cfg *config.Config, invokers map[string]providers.Invoker) {
	d.QuotaTracker = quota.NewTracker(d.Logger)
	d.Registry = registry.New(d.QuotaTracker, d.Logger)

	now := time.Now()
	maxPriority := 0

	for _, mc := range cfg.Models {
		brk := breaker.New(breaker.Config{
			FailureThreshold:  cfg.Breaker.FailureThreshold,
			SuccessThreshold:  cfg.Breaker.SuccessThreshold,
			Timeout:           cfg.Breaker.Timeout,
			MinTimeout:        cfg.Breaker.MinTimeout,
			MaxTimeout:        cfg.Breaker.MaxTimeout,
			TimeoutMultiplier: cfg.Breaker.TimeoutMultiplier,
			AdaptiveTimeout:   cfg.Breaker.AdaptiveTimeout,
			HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
		})

		m := models.NewModelDescriptor(models.ModelParams{
			ID:           mc.ID,
			Name:         mc.Name,
			ProviderKind: mc.ProviderKind,
			Priority:     mc.Priority,
			MaxTokens:    mc.MaxTokens,
			CostPerToken: mc.CostPerToken,
			QuotaLimit:   mc.QuotaLimit,
			WarningPct:   mc.WarningPct,
			CriticalPct:  mc.CriticalPct,
		}, brk, now)

		if err := d.Registry.Register(m); err != nil {
			d.Logger.Warn("skipping model registration", zap.String("model_id", mc.ID), zap.Error(err))
			continue
		}
		if mc.Priority > maxPriority {
			maxPriority = mc.Priority
		}
	}

	// the local fallback sorts last and never becomes ineligible
	fallback := models.NewModelDescriptor(models.ModelParams{
		ID:           providers.FallbackProviderName,
		Name:         "Local Fallback",
		ProviderKind: providers.FallbackProviderName,
		Priority:     maxPriority + 1,
		Fallback:     true,
	}, breaker.New(breaker.DefaultConfig()), now)
	if err := d.Registry.Register(fallback); err != nil {
		d.Logger.Error("failed to register fallback descriptor", zap.Error(err))
	}

	for kind, inv := range invokers {
		d.Registry.RegisterInvoker(kind, inv)
	}
}

// initRouter builds the request router from the registry and retry policy
func (d *Dependencies) initRouter(cfg *config.Config) {
	policy := retry.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		JitterRatio:       cfg.Retry.JitterRatio,
	}

	var recorder router.UsageRecorder
	if d.UsageLog != nil {
		recorder = d.UsageLog
	}

	d.Router = router.New(d.Registry, d.QuotaTracker, recorder, router.Config{
		RetryPolicy:    policy,
		AttemptTimeout: cfg.Router.AttemptTimeout,
	}, d.Logger)
}

// Close releases held resources
func (d *Dependencies) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
