package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slotwise/internal/clock"
	"slotwise/internal/config"
	"slotwise/internal/db"
	"slotwise/internal/events"
	"slotwise/internal/metrics"
	"slotwise/internal/slotcache"
	"slotwise/internal/slots"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SLOTWISE_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.Level(cfg.LogLevel())

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)
	engine := slots.NewEngine(database, database, clock.System{}, logger.With().Str("component", "slots").Logger())

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()

		cache := slotcache.New(rdb, engine, cfg.CacheTTL(), logger)
		cache.Subscribe(bus)

		warmer := slotcache.NewWarmer(cache, engine, slotcache.WarmerOptions{
			Days:        cfg.Cache.WarmDays,
			Durations:   cfg.Cache.WarmDurations,
			Interval:    cfg.WarmInterval(),
			RatePerSec:  cfg.WarmRate(),
			Concurrency: cfg.Engine.Concurrency,
		}, logger)
		go warmer.Run(ctx)
	}

	// Initial load + hot reload of schedules configuration.
	if err := config.WatchSchedules(ctx, cfg.SchedulesConfigPath, cfg.ScheduleReloadInterval(), logger, func(updated *config.SchedulesConfig) {
		if err := database.SyncSchedulesFromConfig(ctx, updated); err != nil {
			logger.Error().Err(err).Msg("failed to apply schedules config")
			return
		}
		if err := bus.PublishJSON(events.RulesChanged, events.RulesChange{}); err != nil {
			logger.Warn().Err(err).Msg("publish rules change")
		}
		logger.Info().Str("schedules", updated.String()).Msg("schedules config applied")
	}); err != nil {
		logger.Error().Err(err).Msg("schedules watch failed")
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	backups := db.NewBackupService(database, cfg.Backup, &logger)
	go backups.Start(ctx)

	logger.Info().Msg("Availability service started")
	<-ctx.Done()
	logger.Info().Msg("Availability service stopped")
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, handler http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
