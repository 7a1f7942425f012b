package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/config"
	"github.com/jwalitptl/livsafe-api/internal/email"
	accountHandler "github.com/jwalitptl/livsafe-api/internal/handler/account"
	authHandler "github.com/jwalitptl/livsafe-api/internal/handler/auth"
	dashboardHandler "github.com/jwalitptl/livsafe-api/internal/handler/dashboard"
	gradeHandler "github.com/jwalitptl/livsafe-api/internal/handler/grade"
	"github.com/jwalitptl/livsafe-api/internal/handler/health"
	organizationHandler "github.com/jwalitptl/livsafe-api/internal/handler/organization"
	"github.com/jwalitptl/livsafe-api/internal/handler/prometheus"
	recordHandler "github.com/jwalitptl/livsafe-api/internal/handler/record"
	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/repository/sqlstore"
	"github.com/jwalitptl/livsafe-api/internal/router"
	accountService "github.com/jwalitptl/livsafe-api/internal/service/account"
	authService "github.com/jwalitptl/livsafe-api/internal/service/auth"
	dashboardService "github.com/jwalitptl/livsafe-api/internal/service/dashboard"
	"github.com/jwalitptl/livsafe-api/internal/service/grading"
	recordService "github.com/jwalitptl/livsafe-api/internal/service/record"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/auth"
	"github.com/jwalitptl/livsafe-api/pkg/logger"
	"github.com/jwalitptl/livsafe-api/pkg/messaging"
	"github.com/jwalitptl/livsafe-api/pkg/messaging/redis"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
	"github.com/jwalitptl/livsafe-api/pkg/security"
)

const metricsNamespace = "livsafe"

func main() {
	configFile := flag.String("config", "", "path to a config file")
	flag.Parse()

	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zl := logger.Setup(cfg.Log.ToLoggerConfig())
	zapLogger := logger.Zap(cfg.Log.ToLoggerConfig())
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := sqlstore.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	applied, err := sqlstore.Migrate(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Int("applied", applied).Str("driver", cfg.Database.Driver).Msg("shared store ready")

	store := sqlstore.New(db)

	promHandler := prometheus.New(metricsNamespace)
	m := metrics.New(metricsNamespace, promHandler.Registry())

	tenants, err := tenant.NewProvisioner(cfg.Tenants.Root, zapLogger, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tenant storage")
	}

	// Events go to Redis when configured
	publisher := messaging.NewNopPublisher()
	if cfg.Redis.URL != "" {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), zl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer broker.Close()
		publisher = messaging.NewPublisher(broker, cfg.Redis.Channel)
	}
	publisher = messaging.WithMetrics(publisher, m.EventsPublished)

	mailer := email.NewSMTPService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}
	hasher := security.NewBcryptHasher(cfg.Security.BcryptCost)

	// Initialize services
	dashboardSvc := dashboardService.NewService(store, tenants, dashboardService.Config{
		TTL:        cfg.Cache.DashboardTTL,
		SampleData: cfg.Demo.SampleData,
	})
	accountSvc := accountService.NewService(store, tenants, hasher, mailer, publisher, dashboardSvc, m)
	authSvc := authService.NewService(store, hasher, jwtSvc, m)
	gradingSvc := grading.NewService(store, tenants, newClassifier(cfg.Grading), grading.Config{
		UploadDir: cfg.Uploads.Dir,
		MaxPixels: cfg.Uploads.MaxPixels,
		Seed:      cfg.Grading.Seed,
	}, publisher, dashboardSvc, m)
	recordSvc := recordService.NewService(tenants, cfg.Demo.SampleData)

	authMiddleware := middleware.NewAuthMiddleware(authSvc)

	rateLimit := middleware.RateLimiterConfig{}
	if cfg.RateLimit.Enabled {
		rateLimit = middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}

	// Setup router
	r := router.NewRouter(router.Config{
		Mode:           cfg.Server.Mode,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		RateLimit:      rateLimit,
		SizeLimit: middleware.SizeLimitConfig{
			MaxBodySize:   1 << 20,
			MaxUploadSize: cfg.Uploads.MaxBytes,
		},
	}, promHandler,
		health.NewHandler(store, func() error {
			_, err := os.Stat(tenants.Root())
			return err
		}),
		accountHandler.NewHandler(accountSvc),
		authHandler.NewHandler(authSvc, authMiddleware),
		organizationHandler.NewHandler(accountSvc, authMiddleware),
		gradeHandler.NewHandler(gradingSvc, authMiddleware),
		dashboardHandler.NewHandler(dashboardSvc, authMiddleware, cfg.Cache.DashboardTTL),
		recordHandler.NewHandler(recordSvc, authMiddleware),
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	accountSvc.Wait()

	log.Info().Msg("server exited properly")
}

func newClassifier(cfg config.GradingConfig) grading.Classifier {
	if strings.EqualFold(cfg.Classifier, "remote") {
		log.Info().Str("url", cfg.RemoteURL).Msg("using remote classifier")
		return grading.NewRemoteClassifier(cfg.RemoteURL, cfg.RemoteTimeout)
	}
	return grading.NewSimulatedClassifier(cfg.Seed)
}
