package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/buildmesh/buildmesh/internal/config"
	"github.com/buildmesh/buildmesh/internal/logger"
	"github.com/buildmesh/buildmesh/internal/metrics"
	"github.com/buildmesh/buildmesh/internal/remote"
	"github.com/buildmesh/buildmesh/internal/server"
)

const (
	version         = "0.3.0"
	shutdownTimeout = 5 * time.Second
)

var (
	configPath  = flag.String("config", "", "Path to the coordinator config file")
	showVersion = flag.Bool("version", false, "Print version and exit")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("Buildmesh Coordinator v" + version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logCfg := cfg.LoggerConfig()
	if *debug {
		logCfg.Level = "debug"
	}
	log := logger.New(logCfg)
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("metrics registration failed", "error", err)
		os.Exit(1)
	}

	log.Info("starting Buildmesh coordinator",
		"version", version,
		"listen", cfg.Listen,
		"builders", len(cfg.Builders),
		"keepalive_interval", cfg.KeepaliveInterval,
	)

	registry := server.NewConnRegistry()
	srv := server.New(server.Config{
		Builders:          cfg.RemoteBuilders(),
		KeepaliveInterval: cfg.KeepaliveInterval,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		Logger:            log,
		OnReady: func(conn *remote.Connection, builders []string) {
			log.Info("worker ready to build",
				"worker", conn.WorkerName(),
				"builders", builders,
			)
		},
	}, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/workers/attach", srv.HandleWorker)
	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info("listening for worker attachments", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker listener error", "error", err)
			cancel()
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux}
		go func() {
			log.Info("serving metrics", "addr", cfg.MetricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("received shutdown signal")
	case <-ctx.Done():
		log.Info("context canceled")
	}

	log.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker listener shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics listener shutdown", "error", err)
		}
	}

	srv.DetachAll()
	log.Info("coordinator shutdown complete")
}
