package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campaignkit/analytics/internal/analytics"
	"github.com/campaignkit/analytics/internal/config"
	"github.com/campaignkit/analytics/internal/logging"
	"github.com/campaignkit/analytics/internal/metrics"
	"github.com/campaignkit/analytics/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "ANALYTICS", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	store, err := buildStore(logger, cfg.Server.Analytics.Cache)
	if err != nil {
		logger.Error("cache backend setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	engine := analytics.New(logger, analytics.Options{
		Store:                   store,
		TTLTable:                cfg.Server.Analytics.TTLTable(),
		TTLPolicy:               cfg.Server.Analytics.TTLPolicy(),
		Recorder:                recorder,
		MaxConcurrentOperations: cfg.Server.Analytics.MaxConcurrentOperations,
		Parallel:                cfg.Server.Analytics.Parallel,
		DefaultTimeout:          time.Duration(cfg.Server.Analytics.DefaultTimeoutMs) * time.Millisecond,
		TrackerWindow:           time.Duration(cfg.Server.Analytics.TrackerResetMinutes) * time.Minute,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Error("engine shutdown failed", slog.Any("error", err))
		}
	}()

	if *configFile != "" {
		watcher, err := loader.Watch(ctx, func(config.Config) {
			// Settings changed under us; flush so stale TTL decisions do not
			// outlive the configuration that produced them.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			removed, err := engine.Flush(flushCtx)
			if err != nil {
				logger.Error("flush after config change failed", slog.Any("error", err))
				return
			}
			logger.Info("cache flushed after config change", slog.Int64("keys_removed", removed))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats, err := engine.StoreStats(r.Context())
		if err != nil {
			http.Error(w, "cache backend unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "cache": stats})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		var domains []analytics.Domain
		if raw := r.URL.Query().Get("domain"); raw != "" {
			domain, err := analytics.ParseDomain(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			domains = append(domains, domain)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.MetricsSnapshot(domains...))
	})

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildStore(logger *slog.Logger, cfg config.CacheConfig) (analytics.Store, error) {
	switch cfg.Backend {
	case "redis":
		store, err := analytics.NewRedisStore(analytics.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: analytics.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			return nil, err
		}
		logger.Info("cache backend ready", slog.String("backend", "redis"), slog.String("address", cfg.Redis.Address))
		return store, nil
	default:
		logger.Info("cache backend ready", slog.String("backend", "memory"))
		return analytics.NewMemoryStore(0), nil
	}
}
