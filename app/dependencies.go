// Package app is the central wiring point for dependency injection.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/assistant-backend/config"
	"github.com/upb/assistant-backend/events"
	"github.com/upb/assistant-backend/middleware"
	"github.com/upb/assistant-backend/notify"
	"github.com/upb/assistant-backend/permissions"
	"github.com/upb/assistant-backend/repositories"
	"github.com/upb/assistant-backend/repositories/postgres"
	"github.com/upb/assistant-backend/services/bus"
	"github.com/upb/assistant-backend/services/eventstore"
	"github.com/upb/assistant-backend/services/executors"
	"github.com/upb/assistant-backend/services/proposals"
	"github.com/upb/assistant-backend/services/validator"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Events     repositories.EventRepository
	Proposals  repositories.ProposalRepository
	Workspaces repositories.WorkspaceRepository
	TxManager  repositories.TransactionManager

	// Pipeline
	Dispatcher *bus.Dispatcher
	Contract   *events.Contract
	Store      *eventstore.Store
	Recovery   *eventstore.Recovery
	Validator  *validator.Service
	Executor   *executors.RecordingExecutor
	Notifier   notify.Notifier
	Resolver   permissions.Resolver

	// Review workflow
	ProposalService *proposals.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initPipeline(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, factory and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Events = repos.Events
	d.Proposals = repos.Proposals
	d.Workspaces = repos.Workspaces
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initPipeline wires the event contract, store, dispatcher and the pipeline
// handlers. Handlers are subscribed here, before the dispatcher starts.
func (d *Dependencies) initPipeline(cfg *config.Config) {
	registry := events.NewRegistry()
	d.Contract = events.NewContract(registry, d.Logger)

	d.Dispatcher = bus.NewDispatcher(bus.Config{
		BufferSize:   cfg.Pipeline.BufferSize,
		WorkerCount:  cfg.Pipeline.WorkerCount,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		RetryBackoff: cfg.Pipeline.RetryBackoff,
	}, d.Logger)

	d.Store = eventstore.NewStore(d.Events, d.Dispatcher, d.Logger)
	d.Recovery = eventstore.NewRecovery(d.Events, d.Dispatcher, eventstore.RecoveryConfig{
		Interval:  cfg.Pipeline.SweepInterval,
		BatchSize: cfg.Pipeline.SweepBatchSize,
	}, d.Logger)
	d.Notifier = notify.NewLogNotifier(d.Logger)
	d.Resolver = permissions.NewMembershipResolver(d.Workspaces, d.Logger)

	d.Validator = validator.NewService(
		d.Contract, d.Store, d.Proposals, d.Workspaces, d.Resolver, d.Notifier, d.Logger)
	d.Validator.Register(d.Dispatcher)

	d.Executor = executors.NewRecordingExecutor(d.Contract, d.Store, d.Notifier, d.Logger)
	d.Executor.Register(d.Dispatcher)

	d.ProposalService = proposals.NewService(d.Contract, d.Store, d.Proposals, d.TxManager, d.Logger)

	d.Logger.Info("pipeline wired",
		zap.Int("workers", cfg.Pipeline.WorkerCount),
		zap.Int("buffer", cfg.Pipeline.BufferSize))
}

// initAuth configures JWT validation for protected routes
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.Secret == "" {
		d.Logger.Warn("auth secret not configured, protected routes will reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	jwtValidator := middleware.NewJWTValidator(cfg.Auth.Secret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(jwtValidator, d.Logger)
	d.Logger.Info("auth middleware initialized", zap.String("issuer", cfg.Auth.Issuer))
}

// rejectAllValidator rejects all tokens (used when auth is not configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// StartPipeline starts the dispatcher workers and the recovery sweep
func (d *Dependencies) StartPipeline() error {
	if err := d.Dispatcher.Start(); err != nil {
		return err
	}
	d.Recovery.Start()
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the pipeline before closing its storage
	if d.Recovery != nil {
		d.Recovery.Stop()
	}
	if d.Dispatcher != nil {
		if err := d.Dispatcher.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
