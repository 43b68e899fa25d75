package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nodefluxio/fremisn-proxy/internal/config"
	"github.com/nodefluxio/fremisn-proxy/internal/logging"
	"github.com/nodefluxio/fremisn-proxy/internal/metrics"
	"github.com/nodefluxio/fremisn-proxy/internal/prober"
	"github.com/nodefluxio/fremisn-proxy/internal/proxy"
	"github.com/nodefluxio/fremisn-proxy/internal/registry"
	"github.com/nodefluxio/fremisn-proxy/internal/retry"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting fremisn-proxy",
		zap.String("listen", cfg.Listen),
		zap.String("admin_listen", cfg.AdminListen),
		zap.String("strategy", cfg.Strategy))

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	pool := registry.NewPool(logger.Named("registry"))
	for _, b := range cfg.BuildBackends() {
		pool.Add(b)
		logger.Info("backend registered",
			zap.String("address", b.Address),
			zap.String("role", b.Role.String()),
			zap.Int("weight", b.Weight),
			zap.Int64("max_conns", b.MaxConns))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hp := prober.New(pool, cfg.HealthCheck, collector, logger.Named("prober"))
	go hp.Start(ctx)

	policy := retry.NewPolicy(cfg.Proxy.MaxRetries, cfg.RetryBudgetPercent)
	dispatcher := proxy.New(pool, cfg.Strategy, cfg.Proxy, cfg.RateLimit,
		policy, collector, logger.Named("dispatcher"))

	exporter := metrics.NewExporter(collector, pool, policy.Budget())
	go exporter.Start(ctx)

	// Hot reload swaps the backend list, preserving health state for
	// addresses that survive. Prober and dispatcher settings stay fixed
	// for the process lifetime.
	watcher, err := config.NewWatcher(*configPath, logger.Named("config"), func(newCfg *config.Config) error {
		backends := newCfg.BuildBackends()
		pool.Replace(backends)
		logger.Info("backends reloaded", zap.Int("count", len(backends)))
		return nil
	})
	if err != nil {
		logger.Error("failed to create config watcher", zap.Error(err))
	} else {
		go watcher.Start(ctx)
	}

	proxyServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: dispatcher,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		primaries := pool.ListHealthy(registry.RolePrimary)
		backups := pool.ListHealthy(registry.RoleBackup)
		if len(primaries)+len(backups) == 0 {
			http.Error(w, "no healthy backends", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","healthy_primary":%d,"healthy_backup":%d}`,
			len(primaries), len(backups))
	})
	adminServer := &http.Server{
		Addr:    cfg.AdminListen,
		Handler: adminMux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("proxy server starting", zap.String("addr", proxyServer.Addr))
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("proxy server error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("admin server starting", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("proxy shutdown error", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown error", zap.Error(err))
	}

	cancel()
	logger.Info("shutdown complete")
}
