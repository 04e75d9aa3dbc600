package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/yvrxbt/pricing-publisher/internal/config"
	"github.com/yvrxbt/pricing-publisher/internal/logger"
	"github.com/yvrxbt/pricing-publisher/internal/runner"
)

func main() {
	var (
		envFile       = flag.String("env", "", "Path to an env file loaded before PUBLISHER_* variables")
		providersFile = flag.String("providers", "", "Path to a YAML providers file")
		dryRun        = flag.Bool("dry-run", false, "Use offline mock providers")
	)
	flag.Parse()

	var opts []config.Option
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	if *providersFile != "" {
		opts = append(opts, config.WithProvidersFile(*providersFile))
	}
	if *dryRun {
		opts = append(opts, config.WithOverride(func(c *config.Config) { c.DryRun = true }))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		logger.New("info", "json", os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.New(cfg, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("publisher failed", "error", err)
		stop()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
