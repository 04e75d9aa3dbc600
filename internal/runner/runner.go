// Package runner wires adapters, supervisor, aggregator, sinks and the HTTP
// surface into one process lifetime.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yvrxbt/pricing-publisher/internal/aggregator"
	"github.com/yvrxbt/pricing-publisher/internal/config"
	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/exchange/binance"
	"github.com/yvrxbt/pricing-publisher/internal/exchange/bybit"
	"github.com/yvrxbt/pricing-publisher/internal/exchange/coinbase"
	"github.com/yvrxbt/pricing-publisher/internal/exchange/hyperliquid"
	"github.com/yvrxbt/pricing-publisher/internal/exchange/mock"
	"github.com/yvrxbt/pricing-publisher/internal/health"
	"github.com/yvrxbt/pricing-publisher/internal/httpapi"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/sink"
	"github.com/yvrxbt/pricing-publisher/internal/supervisor"
)

// maxErrorCount is the session failure count above which the health report
// raises an error-level alert.
const maxErrorCount = 5

var ErrNoProviders = errors.New("no providers could be initialized")

type Runner struct {
	cfg   config.Config
	log   *slog.Logger
	reg   *health.Registry
	table *aggregator.Table
	now   func() time.Time
}

func New(cfg config.Config, log *slog.Logger) *Runner {
	return &Runner{
		cfg:   cfg,
		log:   log,
		reg:   health.NewRegistry(),
		table: aggregator.NewTable(),
		now:   time.Now,
	}
}

func (r *Runner) Registry() *health.Registry { return r.reg }
func (r *Runner) Table() *aggregator.Table   { return r.table }

// Run blocks until ctx is done and every component has unwound, or until a
// component fails to start.
func (r *Runner) Run(ctx context.Context) error {
	adapters := r.buildAdapters()
	if len(adapters) == 0 {
		return ErrNoProviders
	}

	out, err := r.buildSinks(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			r.log.Warn("close sinks", "error", err)
		}
	}()

	updates := make(chan schema.PriceUpdate, r.cfg.ChannelSize)
	agg := aggregator.New(r.table, out, r.cfg.PublishTimeout, r.log)
	sup := supervisor.New(r.reg, updates, supervisor.Options{
		RetryDelay:    r.cfg.RetryDelay,
		MaxRetryDelay: r.cfg.MaxRetryDelay,
	}, r.log)

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	r.log.Info("starting publisher", "providers", names, "pairs", r.cfg.Pairs, "dry_run", r.cfg.DryRun, "sinks", r.cfg.Sinks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx, adapters)
		// Every emit has returned once the supervisor is done.
		close(updates)
		return nil
	})
	g.Go(func() error {
		agg.Run(gctx, updates)
		return nil
	})
	g.Go(func() error {
		r.reportLoop(gctx)
		return nil
	})
	if r.cfg.HTTPAddr != "" {
		api := httpapi.New(r.table, r.reg, adapters, httpapi.Options{
			Addr:       r.cfg.HTTPAddr,
			StaleAfter: r.cfg.StaleAfter,
		}, r.log)
		g.Go(func() error {
			if err := api.Run(gctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	r.log.Info("publisher stopped",
		"accepted", agg.Accepted(),
		"ignored", agg.Ignored(),
		"sink_failures", agg.SinkFailures(),
	)
	return err
}

// buildAdapters creates and initializes one adapter per configured provider.
// A provider that fails Init is disabled in the registry and skipped.
func (r *Runner) buildAdapters() []exchange.Adapter {
	adapters := make([]exchange.Adapter, 0, len(r.cfg.Exchanges))
	for _, name := range r.cfg.Exchanges {
		a, err := r.newAdapter(name)
		if err == nil {
			err = a.Init()
		}
		if err != nil {
			r.reg.Disable(name, err)
			r.log.Error("provider disabled", "provider", name, "error", err)
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters
}

func (r *Runner) newAdapter(name string) (exchange.Adapter, error) {
	pairs, err := r.cfg.PairsFor(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", exchange.ErrConfig, err)
	}
	p := r.cfg.Provider(name)
	opts := exchange.Options{
		Endpoint:  p.Endpoint,
		APIKey:    p.APIKey,
		APISecret: p.APISecret,
		Transport: r.cfg.TransportOptions(),
	}

	if r.cfg.DryRun {
		return mock.New(name, pairs, r.cfg.MockInterval, opts), nil
	}
	switch name {
	case binance.Name:
		return binance.New(pairs, opts), nil
	case bybit.Name:
		return bybit.New(pairs, opts), nil
	case coinbase.Name:
		return coinbase.New(pairs, opts), nil
	case hyperliquid.Name:
		return hyperliquid.New(pairs, opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", exchange.ErrConfig, name)
	}
}

func (r *Runner) buildSinks(ctx context.Context) (*sink.Multi, error) {
	var sinks []aggregator.Sink
	fail := func(err error) (*sink.Multi, error) {
		_ = sink.NewMulti(sinks...).Close()
		return nil, err
	}

	for _, name := range r.cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, sink.NewLog(r.log))
		case "redis":
			rs, err := sink.DialRedis(ctx, sink.RedisOptions{
				Addr:     r.cfg.RedisAddr,
				Password: r.cfg.RedisPassword,
				DB:       r.cfg.RedisDB,
				TTL:      r.cfg.RedisTTL,
				Channel:  r.cfg.RedisChannel,
			}, r.log)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, rs)
		case "postgres":
			pg, err := sink.OpenPostgres(ctx, r.cfg.PostgresDSN, r.log)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, pg)
		default:
			return fail(fmt.Errorf("%w: unknown sink %q", sink.ErrSink, name))
		}
	}
	return sink.NewMulti(sinks...), nil
}

func (r *Runner) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(r.now())
		}
	}
}

// Report summarizes one periodic health check.
type Report struct {
	Disconnected   []string
	StaleHeartbeat []string
	ErrorAlerts    []string
	StalePrices    int
}

func (r *Runner) report(now time.Time) Report {
	var rep Report
	for _, h := range r.reg.Snapshot() {
		if h.State == schema.StateDisabled {
			continue
		}
		log := r.log.With("provider", h.Provider)
		age := now.Sub(h.LastHeartbeat)
		log.Info("provider health",
			"state", h.State,
			"connected", h.IsConnected,
			"error_count", h.ErrorCount,
			"decode_errors", h.DecodeErrors,
			"heartbeat_age", age.Truncate(time.Millisecond).String(),
		)
		switch {
		case !h.IsConnected:
			rep.Disconnected = append(rep.Disconnected, h.Provider)
			log.Warn("provider disconnected", "last_error", h.LastError)
		case age > r.cfg.StaleAfter:
			rep.StaleHeartbeat = append(rep.StaleHeartbeat, h.Provider)
			log.Warn("provider heartbeat stale", "age", age.Truncate(time.Second).String())
		}
		if h.ErrorCount > maxErrorCount {
			rep.ErrorAlerts = append(rep.ErrorAlerts, h.Provider)
			log.Error("provider failing repeatedly", "error_count", h.ErrorCount, "last_error", h.LastError)
		}
	}

	snap := r.table.Snapshot()
	providers := make([]string, 0, len(snap))
	for p := range snap {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		for pair, q := range snap[p] {
			if age := now.Sub(q.ObservedAt); age > r.cfg.StaleAfter {
				rep.StalePrices++
				r.log.Warn("stale price", "provider", p, "pair", pair.String(), "age", age.Truncate(time.Second).String())
			}
		}
	}
	return rep
}
