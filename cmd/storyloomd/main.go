package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"storyloom/internal/config"
	"storyloom/internal/daemon"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/orchestrator"
	"storyloom/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	gen := generation.NewOpenAI(cfg.LLM, logger)
	notifier := notifications.NewService(cfg)
	orch := orchestrator.New(cfg, st, gen, notifier, logger)

	d, err := daemon.New(cfg, st, orch, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("storyloomd shutting down")
}
