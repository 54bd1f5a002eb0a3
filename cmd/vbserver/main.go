// CLAUDE:SUMMARY CLI entry point for the configuration server: serves YAML rule documents over HTTP with hot reload.
// Command vbserver serves VisionBridge configuration documents.
//
// Usage:
//
//	vbserver -config vbserver.yaml
//	vbserver -dir ./configs -addr :8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/visionbridge/configserver"
)

func main() {
	configPath := flag.String("config", "", "path to vbserver.yaml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dir := flag.String("dir", "", "YAML document directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr, *dir); err != nil {
		logger.Error("vbserver: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addr, dir string) error {
	cfg := &configserver.Config{}
	if configPath != "" {
		var err error
		if cfg, err = configserver.LoadConfigFile(configPath); err != nil {
			return err
		}
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dir != "" {
		cfg.Dir = dir
	}
	if cfg.Dir == "" {
		cfg.Dir = "configs"
	}

	store, err := configserver.OpenStore(cfg.Dir, logger)
	if err != nil {
		return err
	}
	srv, err := configserver.New(*cfg, store, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if cfg.Watching() {
		go func() {
			if err := store.Watch(ctx); err != nil {
				logger.Warn("vbserver: watcher stopped", "error", err)
			}
		}()
	}

	return srv.ListenAndServe(ctx)
}
