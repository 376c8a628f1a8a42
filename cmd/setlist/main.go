package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/setlist/pkg/accounts"
	"github.com/platinummonkey/setlist/pkg/api"
	"github.com/platinummonkey/setlist/pkg/audit"
	"github.com/platinummonkey/setlist/pkg/config"
	"github.com/platinummonkey/setlist/pkg/membership"
	"github.com/platinummonkey/setlist/pkg/middleware"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/permissions"
	"github.com/platinummonkey/setlist/pkg/projects"
	"github.com/platinummonkey/setlist/pkg/roles"
	"github.com/platinummonkey/setlist/pkg/storage/postgres"
	"github.com/platinummonkey/setlist/pkg/tenant"
	"github.com/platinummonkey/setlist/pkg/txn"
	"github.com/platinummonkey/setlist/pkg/users"
)

const sweepTimeout = time.Minute

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply the schema and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("environment", string(cfg.Environment))

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("setlist exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.ShutdownOTel(shutdownCtx, providers, logger)
	}()

	db, err := postgres.Open(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.PingTimeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.MigrateOnStart || migrateOnly {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Schema applied")
		if migrateOnly {
			return nil
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(postgres.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Redis connection established")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
		postgres.StartStatsRoutine(ctx, db, metrics, logger, 15*time.Second)
	}

	userStore := users.NewStore(db)
	ids := users.NewResolver(userStore, cfg.Users.ResolverCacheSize, cfg.Users.ResolverCacheTTL)
	memberships := membership.NewStore(db)
	engine := permissions.NewEngine(db, permissions.WithMetrics(metrics))

	authority, auditLog, err := buildAuthority(cfg, userStore, redisClient, logger, metrics, db)
	if err != nil {
		return err
	}

	resolver, err := buildIdentityResolver(ctx, cfg)
	if err != nil {
		return err
	}

	var rateLimit *middleware.RateLimitMiddleware
	if cfg.Redis.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(redisClient, middleware.PerMinute(cfg.Redis.RateLimitPerMinute), "setlist:ratelimit:")
		rateLimit = middleware.NewRateLimitMiddleware(limiter)
	}

	health := observability.NewHealthChecker(db, redisClient)

	server := api.NewServer(api.Deps{
		Transactions: txn.NewManager(txn.NewSQLPool(db), txn.WithMetrics(metrics), txn.WithLogger(logger)),
		Identity:     middleware.NewIdentityMiddleware(resolver, userStore, ids, false),
		RateLimit:    rateLimit,
		Tenant: tenant.NewBinder(ids, memberships, tenant.Config{
			Header:  cfg.Tenant.Header,
			Setting: cfg.Database.TenantSetting,
			Strict:  cfg.Tenant.StrictBinding,
		}, logger, metrics),
		Authority:    authority,
		Projects:     projects.NewService(db, engine),
		Accounts:     accounts.NewStore(db),
		Memberships:  memberships,
		Contexts:     membership.NewContextStore(db, memberships),
		AuditLog:     auditLog,
		Health:       health,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	if cfg.Permissions.SweepSchedule != "" {
		sweeper, err := permissions.NewSweeper(engine, cfg.Permissions.SweepSchedule, sweepTimeout, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
		logger.Infof("Expired permission sweeper scheduled: %s", cfg.Permissions.SweepSchedule)
	}

	servers := []*http.Server{{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      observability.InstrumentHandler(server, "setlist"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}
	if metrics != nil && cfg.Server.MetricsPort != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		health.RegisterRoutes(router)
		servers = append(servers, &http.Server{
			Addr:        cfg.Server.Host + ":" + cfg.Server.MetricsPort,
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// buildAuthority wires the role stores for the configured environment. Both
// stores are built so the non-authoritative one can be mirrored, except that
// the managed store is only available when the identity provider is
// configured.
func buildAuthority(cfg *config.Config, userStore *users.Store, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics, db *sql.DB) (*roles.Authority, *audit.DBSink, error) {
	var local roles.Store = roles.NewLocalStore(userStore)
	var managed roles.Store
	if cfg.IdentityProvider.APIURL != "" {
		managed = roles.NewManagedStore(roles.ManagedConfig{
			APIURL:    cfg.IdentityProvider.APIURL,
			SecretKey: cfg.IdentityProvider.SecretKey,
			Timeout:   cfg.IdentityProvider.Timeout,
		})
	}

	if redisClient != nil {
		if cfg.Environment == config.EnvironmentManaged && managed != nil {
			managed = roles.NewCachedStore(managed, redisClient, cfg.Redis.RoleCacheTTL, logger, metrics)
		} else {
			local = roles.NewCachedStore(local, redisClient, cfg.Redis.RoleCacheTTL, logger, metrics)
		}
	}

	auditLog := audit.NewDBSink(db)
	authority, err := roles.NewAuthority(cfg.Environment, local, managed,
		roles.WithAuditSink(audit.NewMultiSink(audit.NewLogSink(logger), auditLog)),
		roles.WithLogger(logger),
		roles.WithMetrics(metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	return authority, auditLog, nil
}

func buildIdentityResolver(ctx context.Context, cfg *config.Config) (middleware.IdentityResolver, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeOIDC:
		return middleware.NewOIDCResolver(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
	default:
		return middleware.NewHeaderResolver(), nil
	}
}
