package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

type recordingSink struct {
	calls  int
	err    error
	closed bool
}

func (r *recordingSink) Publish(context.Context, string, schema.TradingPair, float64, time.Time) error {
	r.calls++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, l.Publish(context.Background(), "binance", btcUSDT, 65000.5, ts))

	out := buf.String()
	assert.Contains(t, out, `"msg":"price"`)
	assert.Contains(t, out, `"provider":"binance"`)
	assert.Contains(t, out, `"pair":"BTC/USDT"`)
	assert.Contains(t, out, `"price":65000.5`)
}

func TestMultiPublishesToAll(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("down")}
	m := NewMulti(ok, bad)

	err := m.Publish(context.Background(), "a", btcUSDT, 1, ts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
	assert.Equal(t, 2, m.Len())
}
