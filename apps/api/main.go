package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	opsalertshandler "github.com/clasora/uiconfig-service/domains/opsalerts/be/handler"
	opsalertsservice "github.com/clasora/uiconfig-service/domains/opsalerts/be/service"
	publishaudithandler "github.com/clasora/uiconfig-service/domains/publishaudit/be/handler"
	publishauditservice "github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
	themeshandler "github.com/clasora/uiconfig-service/domains/themes/be/handler"
	themesrepo "github.com/clasora/uiconfig-service/domains/themes/be/repo"
	themesservice "github.com/clasora/uiconfig-service/domains/themes/be/service"
	uiconfighandler "github.com/clasora/uiconfig-service/domains/uiconfig/be/handler"
	uiconfigrepo "github.com/clasora/uiconfig-service/domains/uiconfig/be/repo"
	uiconfigservice "github.com/clasora/uiconfig-service/domains/uiconfig/be/service"
	"github.com/clasora/uiconfig-service/platform/go/cache"
	platformlogging "github.com/clasora/uiconfig-service/platform/go/logging"
	"github.com/clasora/uiconfig-service/platform/go/metrics"
	platformmiddleware "github.com/clasora/uiconfig-service/platform/go/middleware"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
	"github.com/clasora/uiconfig-service/platform/go/publishlock"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`

	AlertSMTPHost        string `env:"ALERT_SMTP_HOST"`
	AlertSMTPPort        string `env:"ALERT_SMTP_PORT"`
	AlertSMTPFrom        string `env:"ALERT_SMTP_FROM"`
	AlertSMTPTo          string `env:"ALERT_SMTP_TO"`
	AlertSMTPUser        string `env:"ALERT_SMTP_USER"`
	AlertSMTPPass        string `env:"ALERT_SMTP_PASS"`
	AlertSMTPAuthEnabled bool   `env:"ALERT_SMTP_AUTH_ENABLED" envDefault:"true"`
	AlertSMTPImplicitTLS bool   `env:"ALERT_SMTP_IMPLICIT_TLS" envDefault:"false"`
	AlertSlackWebhookURL string `env:"ALERT_SLACK_WEBHOOK_URL"`
	AlertPagerDutyKey    string `env:"ALERT_PAGERDUTY_ROUTING_KEY"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Register(logger)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		_ = redisClient.Close()
	}()
	tokenCache := cache.NewRedisCache(redisClient, logger)

	locks := publishlock.NewRegistry()
	go pruneLocks(ctx, locks)

	configRepo, err := uiconfigrepo.NewPostgresRepository(ctx, pool)
	if err != nil {
		logger.Fatal("init configuration repository", zap.Error(err))
	}
	configService := uiconfigservice.New(logger, configRepo, locks)
	configHTTPHandler := uiconfighandler.New(configService, logger)

	auditService := publishauditservice.New(logger, configRepo, publishauditservice.DefaultSLOTargets())
	auditHTTPHandler := publishaudithandler.New(auditService, logger)

	deliveryStore, err := persistence.NewDeliveryStore(ctx, pool)
	if err != nil {
		logger.Fatal("init delivery store", zap.Error(err))
	}

	alertsService := opsalertsservice.New(logger, auditService, deliveryStore, opsalertsservice.ChannelSecrets{
		SMTPHost:            cfg.AlertSMTPHost,
		SMTPPort:            cfg.AlertSMTPPort,
		SMTPFrom:            cfg.AlertSMTPFrom,
		SMTPTo:              cfg.AlertSMTPTo,
		SMTPUser:            cfg.AlertSMTPUser,
		SMTPPass:            cfg.AlertSMTPPass,
		SMTPAuthEnabled:     cfg.AlertSMTPAuthEnabled,
		SMTPImplicitTLS:     cfg.AlertSMTPImplicitTLS,
		SlackWebhookURL:     cfg.AlertSlackWebhookURL,
		PagerDutyRoutingKey: cfg.AlertPagerDutyKey,
	})
	alertsHTTPHandler := opsalertshandler.New(alertsService, logger)

	themeRepo, err := themesrepo.NewPostgresRepository(ctx, pool)
	if err != nil {
		logger.Fatal("init theme repository", zap.Error(err))
	}
	themesService := themesservice.New(logger, themeRepo, tokenCache)
	themesHTTPHandler := themeshandler.New(themesService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Mount("/configurations", configHTTPHandler.Routes())
	apiRouter.Mount("/publish-audit", auditHTTPHandler.Routes())
	apiRouter.Mount("/ops-alerts", alertsHTTPHandler.Routes())
	apiRouter.Mount("/themes", themesHTTPHandler.Routes())

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// pruneLocks sweeps expired publish locks so abandoned holders never pin a
// scope tuple longer than the TTL.
func pruneLocks(ctx context.Context, locks *publishlock.Registry) {
	ticker := time.NewTicker(publishlock.DefaultTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			locks.PruneExpired()
		}
	}
}
