package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/tcc-account/docs"
	"github.com/ruralpay/tcc-account/internal/config"
	"github.com/ruralpay/tcc-account/internal/database"
	"github.com/ruralpay/tcc-account/internal/handlers"
	"github.com/ruralpay/tcc-account/internal/metrics"
	mW "github.com/ruralpay/tcc-account/internal/middleware"
	"github.com/ruralpay/tcc-account/internal/services"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title TCC Account Participant API
// @version 1.0
// @description Try-Confirm-Cancel resource manager for account balances
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JWT.SecretKey == "" {
		logger.Warn("JWT_SECRET_KEY is not set, every coordinator call will be rejected")
	}

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.InitDB(startupCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.EnsureSchema(startupCtx, db); err != nil {
			return err
		}
		logger.Info("database schema ensured")
	}

	redisClient := database.InitRedis(startupCtx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, cfg.Database.Name),
	)
	m := metrics.New(registry)

	participant := services.NewTCCParticipant(db, logger, cfg.TCC.StoreTimeout).WithMetrics(m)

	sweeper := services.NewRecoverySweeper(db, participant, redisClient, services.SweeperConfig{
		RecoveryTimeout: cfg.TCC.RecoveryTimeout,
		SweepInterval:   cfg.TCC.SweepInterval,
		StoreTimeout:    cfg.TCC.StoreTimeout,
		BatchSize:       cfg.TCC.SweepBatchSize,
		LockTTL:         cfg.TCC.SweepLockTTL,
	}, logger).WithMetrics(m)
	if err := sweeper.Start(); err != nil {
		return err
	}

	tccHandler := handlers.NewTCCHandler(participant)

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware(cfg.JWT.SecretKey))
		tccHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			<-sweeper.Stop().Done()
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}

	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("recovery sweep still running at shutdown")
	}

	logger.Info("server stopped")
	return nil
}
