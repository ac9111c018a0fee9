package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/crowdwatch/crowdwatch/internal/api"
	"github.com/crowdwatch/crowdwatch/internal/config"
	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/metrics"
	"github.com/crowdwatch/crowdwatch/internal/risk"
	"github.com/crowdwatch/crowdwatch/internal/storage"
	"github.com/crowdwatch/crowdwatch/internal/window"
	"github.com/crowdwatch/crowdwatch/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("crowdwatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"trend_window", cfg.Window.TrendWindow,
		"redis_addr", cfg.Redis.Addr,
		"zone_overrides", len(cfg.Thresholds.Zones),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Durable record store.
	dsn := cfg.Database.DSN()
	if dsn == "" {
		slog.Error("database DSN not set", "env", cfg.Database.DSNEnv)
		os.Exit(1)
	}
	db, err := storage.Open(ctx, dsn)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	// Score window store: Redis while reachable, bounded in-process
	// fallback after the first detected failure.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password(),
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	windows := window.NewFailover(ctx,
		window.NewRedis(rdb, cfg.Window.TrendWindow, cfg.Window.RedisTTL),
		window.NewMemory(cfg.Window.FallbackSamples, cfg.Window.FallbackZones),
	)

	// WebSocket fan-out hub.
	hub := ws.New()
	go hub.Run(ctx)

	// Zone thresholds, hot-reloaded from the config file.
	thresholds := ingest.NewThresholds(thresholdsFrom(cfg.Thresholds))
	go func() {
		err := config.Watch(ctx, *configPath, cfg.Thresholds, func(next config.ThresholdsConfig) {
			thresholds.Swap(thresholdsFrom(next))
			slog.Info("thresholds updated", "zone_overrides", len(next.Zones))
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	coord := ingest.New(windows, db, hub, thresholds, cfg.Window.TrendWindow, cfg.Window.Damping)

	// Combined HTTP server: ingest API, WebSocket stream, Prometheus metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(coord, db, db, windows, hub))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("crowdwatch-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// thresholdsFrom converts the config threshold section into the resolver's
// inputs.
func thresholdsFrom(tc config.ThresholdsConfig) (risk.Thresholds, map[string]risk.Thresholds) {
	defaults := risk.Thresholds{
		Yellow: tc.DefaultYellow,
		Red:    tc.DefaultRed,
	}
	zones := make(map[string]risk.Thresholds, len(tc.Zones))
	for _, z := range tc.Zones {
		zones[z.Zone] = risk.Thresholds{Yellow: z.Yellow, Red: z.Red}
	}
	return defaults, zones
}
