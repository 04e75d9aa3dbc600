package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/config"
	"github.com/yvrxbt/pricing-publisher/internal/health"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/sink"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T, fn func(*config.Config)) config.Config {
	t.Helper()
	cfg, err := config.Load(config.WithOverride(func(c *config.Config) {
		c.DryRun = true
		c.HTTPAddr = ""
		c.MockInterval = 20 * time.Millisecond
		c.Sinks = []string{"log"}
		fn(c)
	}))
	require.NoError(t, err)
	return cfg
}

func runUntil(t *testing.T, r *Runner, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestDryRunPublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, func(c *config.Config) {
		c.Exchanges = []string{"binance", "coinbase"}
		c.Pairs = []string{"BTC/USDT", "ETH/USDT"}
		c.Sinks = []string{"redis"}
		c.RedisAddr = mr.Addr()
	})

	r := New(cfg, discard())
	runUntil(t, r, func() bool { return r.Table().Len() == 4 })

	btc := schema.NewTradingPair("BTC", "USDT")
	assert.True(t, mr.Exists(sink.ProviderKey("binance", btc)))
	assert.True(t, mr.Exists(sink.ProviderKey("coinbase", btc)))
	assert.True(t, mr.Exists(sink.SourcesKey(btc)))

	rows := r.Registry().Snapshot()
	require.Len(t, rows, 2)
	for _, h := range rows {
		assert.Equal(t, schema.StateShuttingDown, h.State, h.Provider)
		assert.Zero(t, h.ErrorCount, h.Provider)
	}
}

func TestInitFailureDisablesOnlyThatProvider(t *testing.T) {
	cfg := loadConfig(t, func(c *config.Config) {
		c.Exchanges = []string{"binance", "bybit"}
	})
	cfg.Providers = map[string]config.ProviderConfig{"bybit": {Pairs: []string{"nope"}}}

	r := New(cfg, discard())
	runUntil(t, r, func() bool {
		_, ok := r.Table().Provider("binance")
		return ok
	})

	h, ok := r.Registry().Get("bybit")
	require.True(t, ok)
	assert.Equal(t, schema.StateDisabled, h.State)
	assert.NotEmpty(t, h.LastError)

	_, ok = r.Table().Provider("bybit")
	assert.False(t, ok)
}

func TestUnknownProviderWithoutDryRun(t *testing.T) {
	cfg := loadConfig(t, func(c *config.Config) {
		c.DryRun = false
		c.Exchanges = []string{"kraken"}
	})

	r := New(cfg, discard())
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoProviders)

	h, ok := r.Registry().Get("kraken")
	require.True(t, ok)
	assert.Equal(t, schema.StateDisabled, h.State)
	assert.Contains(t, h.LastError, "unknown provider")
}

func TestSinkStartupFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := loadConfig(t, func(c *config.Config) {
		c.Exchanges = []string{"binance"}
		c.Sinks = []string{"log", "redis"}
		c.RedisAddr = addr
	})

	err = New(cfg, discard()).Run(context.Background())
	assert.ErrorIs(t, err, sink.ErrSink)
}

func TestReport(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := now
	cfg := loadConfig(t, func(c *config.Config) { c.StaleAfter = 30 * time.Second })
	r := New(cfg, discard())
	r.reg = health.NewRegistry().WithClock(func() time.Time { return clock })

	r.reg.Register("fresh")
	r.reg.MarkConnected("fresh")

	r.reg.Register("flaky")
	for i := 0; i < 6; i++ {
		r.reg.MarkDisconnected("flaky", errors.New("refused"))
	}

	clock = now.Add(-time.Minute)
	r.reg.Register("quiet")
	r.reg.MarkConnected("quiet")
	clock = now

	r.reg.Disable("broken", errors.New("bad config"))

	pair := schema.NewTradingPair("BTC", "USDT")
	r.table.Upsert(schema.PriceUpdate{Provider: "fresh", Pair: pair, Price: 1, ObservedAt: now})
	r.table.Upsert(schema.PriceUpdate{Provider: "quiet", Pair: pair, Price: 1, ObservedAt: now.Add(-time.Minute)})

	rep := r.report(now)
	assert.Equal(t, []string{"flaky"}, rep.Disconnected)
	assert.Equal(t, []string{"quiet"}, rep.StaleHeartbeat)
	assert.Equal(t, []string{"flaky"}, rep.ErrorAlerts)
	assert.Equal(t, 1, rep.StalePrices)
}
