package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/project-portal/internal/api/http"
	"github.com/spec-kit/project-portal/internal/api/http/handlers"
	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/config"
	"github.com/spec-kit/project-portal/internal/events"
	"github.com/spec-kit/project-portal/internal/keycloak"
	"github.com/spec-kit/project-portal/internal/observability"
	"github.com/spec-kit/project-portal/internal/persistence"
	"github.com/spec-kit/project-portal/internal/repository"
	"github.com/spec-kit/project-portal/internal/service"
	"github.com/spec-kit/project-portal/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()
	readiness := map[string]handlers.Pinger{}

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()
	readiness["store"] = store

	states, redis := newStateStore(ctx, cfg, clock, metrics, logger)
	if redis != nil {
		defer redis.Close()
		readiness["redis"] = redis
	}

	provider := keycloak.NewClient(cfg.Keycloak, cfg.App)
	if !provider.Enabled() {
		logger.Warn("keycloak is not configured; external login disabled")
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL(), clock)
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		Store:      store,
		Tokens:     tokens,
		States:     states,
		Provider:   provider,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      clock,
		Logger:     logger,
	})
	accountService := service.NewAccountService(cfg.Auth, store, dispatcher, clock, logger)

	if _, err := service.EnsureBootstrapAdmin(ctx, cfg.Bootstrap, cfg.Auth.BcryptCost, store, clock, logger); err != nil {
		logger.Error("failed to create bootstrap admin", zap.Error(err))
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Auth:           handlers.NewAuthHandler(authService, cfg.App.FrontendURL, cfg.Auth.CookieSecure, logger),
		Profile:        handlers.NewProfileHandler(authService),
		Accounts:       handlers.NewAccountsHandler(accountService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Profiles, logger),
		LoginLimiter:   httptransport.NewLoginLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginRateBurst),
		Metrics:        metrics.Handler(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// openStore connects the configured credential/profile backend. A backend
// that cannot be reached leaves the API running on an unavailable store so
// provider logins keep working.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.Store, func()) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; accounts are lost on restart")
		return repository.NewMemoryStore(), func() {}

	case config.StoreBackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect postgres", zap.Error(err))
			return repository.NewUnavailableStore(), func() {}
		}
		if pg.Pool == nil {
			return repository.NewUnavailableStore(), pg.Close
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pool := pg.PoolHandle()
		store := repository.NewStore(
			repository.NewPostgresProfileRepository(pool),
			repository.NewPostgresCredentialRepository(pool),
			pg.Ping,
		)
		return store, pg.Close

	default:
		mongo, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Error("failed to connect mongodb", zap.Error(err))
			return repository.NewUnavailableStore(), func() {}
		}
		closeMongo := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			mongo.Close(closeCtx)
		}
		if !mongo.Connected() {
			return repository.NewUnavailableStore(), closeMongo
		}
		profiles, err := repository.NewMongoProfileRepository(ctx, mongo.DB)
		if err != nil {
			logger.Fatal("failed to prepare profile collection", zap.Error(err))
		}
		credentials, err := repository.NewMongoCredentialRepository(ctx, mongo.DB)
		if err != nil {
			logger.Fatal("failed to prepare credential collection", zap.Error(err))
		}
		return repository.NewStore(profiles, credentials, mongo.Ping), closeMongo
	}
}

// newStateStore builds the login state store. The in-memory store gets a
// background sweeper tied to ctx.
func newStateStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics, logger *zap.Logger) (auth.StateStore, *persistence.Redis) {
	if cfg.Auth.StateBackend == config.StateBackendRedis {
		redis := persistence.NewRedis(cfg.Redis, logger)
		return auth.NewRedisStateStore(redis.Client, cfg.Auth.StateTTL(), clock, logger), redis
	}

	states := auth.NewMemoryStateStore(cfg.Auth.StateTTL(), clock)
	metrics.RegisterLoginStateGauge(states.Len)
	go worker.RunStateSweeper(ctx, clock, states, cfg.Auth.StateSweepInterval(), logger)
	return states, nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
