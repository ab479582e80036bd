package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloudemu/internal/blob"
	"cloudemu/internal/config"
	"cloudemu/internal/dispatch"
	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/metric"
	"cloudemu/internal/service/function"
	"cloudemu/internal/service/itemstore"
	"cloudemu/internal/service/objectstore"
	"cloudemu/internal/service/queue"
	boltstore "cloudemu/internal/store/bolt"
	"cloudemu/pkg/api"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	metricsListen := flag.String("metrics-listen", "", "metrics listen address (overrides config)")
	flag.Parse()

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	cfg.Node.DataDir = config.ExpandHome(cfg.Node.DataDir)
	if err := os.MkdirAll(cfg.Node.DataDir, 0700); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	// Open persistent stores
	meta, err := boltstore.Open(filepath.Join(cfg.Node.DataDir, "metadata.db"))
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	blobs, err := blob.Open(filepath.Join(cfg.Node.DataDir, "blobs"))
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	eng := engine.New(meta, blobs)
	defer eng.Close()

	metrics := metric.New()
	disp := dispatch.New(metrics)

	providers := api.Providers()
	queueSvc := queue.New(eng)
	if err := objectstore.New(eng).Register(disp, providers...); err != nil {
		log.Fatalf("object store: %v", err)
	}
	if err := itemstore.New(eng).Register(disp, providers...); err != nil {
		log.Fatalf("item store: %v", err)
	}
	if err := queueSvc.Register(disp, providers...); err != nil {
		log.Fatalf("queue: %v", err)
	}
	if err := function.New(eng, nil).Register(disp, providers...); err != nil {
		log.Fatalf("function registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go queue.NewSweeper(queueSvc, cfg.Queue.SweepInterval.Value()).Run(ctx)

	metricsServer := metric.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, metrics)
	metricsServer.Start()

	log.Printf("Data dir:  %s", cfg.Node.DataDir)
	if cfg.Metrics.Listen != "" {
		log.Printf("Metrics on http://%s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Printf("metrics server: %v", err)
	}
}
