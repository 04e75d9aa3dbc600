//go:build live

package testutil_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/config"
	"github.com/yvrxbt/pricing-publisher/internal/logger"
	"github.com/yvrxbt/pricing-publisher/internal/runner"
)

// TestLivePublisher streams from the real venues for LIVE_DURATION_SEC
// seconds and checks that every configured provider produced prices.
func TestLivePublisher(t *testing.T) {
	duration := secondsOrDefault(os.Getenv("LIVE_DURATION_SEC"), 15*time.Second)

	cfg, err := config.Load(config.WithOverride(func(c *config.Config) {
		c.DryRun = false
		c.HTTPAddr = ""
		c.Sinks = []string{"log"}
		if raw := os.Getenv("LIVE_EXCHANGES"); strings.TrimSpace(raw) != "" {
			c.Exchanges = strings.Split(raw, ",")
		}
	}))
	require.NoError(t, err)

	r := runner.New(cfg, logger.New(os.Getenv("LIVE_LOG_LEVEL"), "text", os.Stderr))
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	err = r.Run(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("runner: %v", err)
	}

	for _, name := range cfg.Exchanges {
		h, ok := r.Registry().Get(name)
		require.True(t, ok, name)
		assert.Empty(t, h.LastError, name)

		cells, ok := r.Table().Provider(name)
		if assert.True(t, ok, "%s produced no prices", name) {
			t.Logf("%s: %d pairs, decode errors %d", name, len(cells), h.DecodeErrors)
		}
	}
}

func secondsOrDefault(raw string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
