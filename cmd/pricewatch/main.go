// Command pricewatch polls the redis keys written by the publisher and prints
// the latest price and per-provider sources for each configured pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/config"
	"github.com/yvrxbt/pricing-publisher/internal/logger"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/sink"
)

func main() {
	var (
		envFile  = flag.String("env", "", "Path to an env file loaded before PUBLISHER_* variables")
		interval = flag.Duration("interval", time.Second, "Poll interval")
		once     = flag.Bool("once", false, "Print one snapshot and exit")
	)
	flag.Parse()

	var opts []config.Option
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	log := logger.New("info", "text", os.Stderr)

	cfg, err := config.Load(opts...)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	pairs, err := cfg.TradingPairs()
	if err != nil {
		log.Error("invalid pairs", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := sink.DialRedis(ctx, sink.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := render(ctx, os.Stdout, r, pairs, time.Now()); err != nil {
			log.Error("read prices", "error", err)
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func render(ctx context.Context, w io.Writer, r *sink.Redis, pairs []schema.TradingPair, now time.Time) error {
	fmt.Fprintln(w, "=== Current Prices ===")
	for _, pair := range pairs {
		price, ok, err := r.Latest(ctx, pair)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s: no data\n", pair)
			continue
		}
		fmt.Fprintf(w, "%s: %g\n", pair, price)

		sources, err := r.Sources(ctx, pair)
		if err != nil {
			return err
		}
		for _, s := range sources {
			age := now.Sub(s.ObservedAt).Truncate(time.Second)
			fmt.Fprintf(w, "  %-12s %g (%s ago)\n", s.Provider, s.Price, age)
		}
	}
	return nil
}
