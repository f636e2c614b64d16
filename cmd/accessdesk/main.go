package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/accessdesk/accessdesk/pkg/audit"
	"github.com/accessdesk/accessdesk/pkg/config"
	"github.com/accessdesk/accessdesk/pkg/database"
	"github.com/accessdesk/accessdesk/pkg/grants"
	"github.com/accessdesk/accessdesk/pkg/idp"
	"github.com/accessdesk/accessdesk/pkg/observability"
	"github.com/accessdesk/accessdesk/pkg/profiles"
	"github.com/accessdesk/accessdesk/pkg/schema"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "accessdesk")
	ctx := context.Background()

	// Database
	conns, err := database.NewConnectionManager(database.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: database.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger.WithField("component", "database"))
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer conns.Close()

	if err := grants.RunMigrations(ctx, conns.Primary()); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	// Audit trail
	var auditLogger audit.Logger = audit.NopLogger()
	var dbAudit *audit.DBLogger
	if cfg.Audit.Enabled {
		dbAudit, err = audit.NewDBLogger(conns.Primary())
		if err != nil {
			logger.WithError(err).Error("failed to initialize audit trail")
			os.Exit(1)
		}
		auditLogger = dbAudit
	}

	// Effective-rights cache
	var cache grants.EffectiveCache = grants.NopCache{}
	var redisCache *grants.RedisCache
	if cfg.Cache.Enabled {
		redisCache, err = grants.NewRedisCache(grants.RedisCacheConfig{
			URL:      cfg.Cache.RedisURL,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
			L1Size:   cfg.Cache.L1Size,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		cache = redisCache
	}

	// Core services
	introspector := schema.NewPostgresIntrospector(conns.Primary(), cfg.Database.Schema)
	store := grants.NewStore(conns.Primary(), introspector)
	resolver := grants.NewResolver(store, conns.Replica(), cache)
	profileService := profiles.NewService(conns.Primary(), logger.WithField("component", "profiles"))

	// HTTP API
	router := mux.NewRouter()
	registry := prometheus.NewRegistry()
	bgCtx, cancelBackground := context.WithCancel(ctx)
	if cfg.Observability.MetricsEnabled {
		metrics := observability.NewMetrics(registry)
		router.Use(metrics.HTTPMiddleware)
		store.SetMetrics(metrics)
		resolver.SetMetrics(metrics)
		go sampleGauges(bgCtx, conns.Primary(), metrics, logger)
	}

	// Identity provider guards the API when enabled
	apiRouter := router
	if cfg.IdP.Enabled {
		directory, err := idp.NewOIDCDirectory(ctx, idp.OIDCConfig{
			IssuerURL:    cfg.IdP.IssuerURL,
			ClientID:     cfg.IdP.ClientID,
			ClientSecret: cfg.IdP.ClientSecret,
			RedirectURL:  cfg.IdP.RedirectURL,
			Scopes:       cfg.IdP.Scopes,
			GroupsClaim:  cfg.IdP.GroupsClaim,
		})
		if err != nil {
			logger.WithError(err).Error("failed to initialize identity provider")
			os.Exit(1)
		}
		provisioner := idp.NewProfileProvisioner(profileService, resolver, cfg.IdP.GroupProfileMapping, logger.WithField("component", "idp"))
		idpHandlers := idp.NewHandlers(directory, provisioner, logger.WithField("component", "idp"))
		idpHandlers.RegisterRoutes(router)

		apiRouter = router.PathPrefix("/").Subrouter()
		apiRouter.Use(idpHandlers.Middleware)
	}

	grants.NewHandlers(store, resolver, auditLogger).RegisterRoutes(apiRouter)
	profiles.NewHandlers(profileService, resolver, auditLogger).RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server on a separate port
	healthRouter := mux.NewRouter()
	var healthChecker *observability.HealthChecker
	if redisCache != nil {
		healthChecker = observability.NewHealthChecker(conns.Primary(), redisCache.Client())
	} else {
		healthChecker = observability.NewHealthChecker(conns.Primary(), nil)
	}
	healthRouter.HandleFunc("/healthz", healthChecker.Liveness).Methods("GET")
	healthRouter.HandleFunc("/readyz", healthChecker.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	// Scheduled audit retention purge
	scheduler := cron.New()
	if cfg.Audit.Enabled && dbAudit != nil {
		policy := audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}
		_, err := scheduler.AddFunc(cfg.Audit.PurgeSchedule, func() {
			purgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			removed, err := dbAudit.Purge(purgeCtx, policy)
			if err != nil {
				logger.WithError(err).Error("audit purge failed")
				return
			}
			if removed > 0 {
				logger.Infof("audit purge removed %d events", removed)
			}
		})
		if err != nil {
			logger.WithError(err).Error("invalid audit purge schedule")
			os.Exit(1)
		}
		scheduler.Start()
	}

	conns.StartHealthCheckRoutine(bgCtx, 30*time.Second)

	go func() {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelBackground()
		scheduler.Stop()
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return cache.Close()
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
}

// sampleGauges refreshes the connection-pool and business gauges until the
// context is cancelled.
func sampleGauges(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdateDBStats(db.Stats())

			queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			var sets, profileCount int
			if err := db.QueryRowContext(queryCtx, "SELECT COUNT(*) FROM permission_sets").Scan(&sets); err != nil {
				cancel()
				logger.WithError(err).Warn("failed to sample permission set count")
				continue
			}
			if err := db.QueryRowContext(queryCtx, "SELECT COUNT(*) FROM profiles").Scan(&profileCount); err != nil {
				cancel()
				logger.WithError(err).Warn("failed to sample profile count")
				continue
			}
			cancel()
			metrics.PermissionSetsTotal.Set(float64(sets))
			metrics.ProfilesTotal.Set(float64(profileCount))
		case <-ctx.Done():
			return
		}
	}
}
