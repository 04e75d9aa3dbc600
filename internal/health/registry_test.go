package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

func TestLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRegistry().WithClock(func() time.Time { return now })

	r.Register("binance")
	h, ok := r.Get("binance")
	require.True(t, ok)
	assert.Equal(t, schema.StateStarting, h.State)
	assert.False(t, h.IsConnected)
	assert.Equal(t, now, h.LastHeartbeat)

	now = now.Add(time.Second)
	r.MarkConnected("binance")
	h, _ = r.Get("binance")
	assert.True(t, h.IsConnected)
	assert.Equal(t, schema.StateConnected, h.State)
	assert.Equal(t, now, h.LastHeartbeat)

	r.MarkDisconnected("binance", errors.New("boom"))
	r.MarkDisconnected("binance", nil)
	h, _ = r.Get("binance")
	assert.False(t, h.IsConnected)
	assert.Equal(t, schema.StateBackoff, h.State)
	assert.Equal(t, uint64(1), h.ErrorCount)
	assert.Equal(t, "boom", h.LastError)

	r.SetState("binance", schema.StateShuttingDown)
	h, _ = r.Get("binance")
	assert.Equal(t, schema.StateShuttingDown, h.State)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.MarkDisconnected("a", errors.New("x"))
	r.Register("a")

	h, _ := r.Get("a")
	assert.Equal(t, uint64(1), h.ErrorCount)
	assert.Len(t, r.Snapshot(), 1)
}

func TestUnknownProviderIgnored(t *testing.T) {
	r := NewRegistry()
	r.Heartbeat("ghost")
	r.MarkDisconnected("ghost", errors.New("x"))

	_, ok := r.Get("ghost")
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())
}

func TestDecodeErrorsNeverDecrease(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.SetDecodeErrors("a", 5)
	r.SetDecodeErrors("a", 3)

	h, _ := r.Get("a")
	assert.Equal(t, uint64(5), h.DecodeErrors)
}

func TestDisable(t *testing.T) {
	r := NewRegistry()
	r.Disable("bad", errors.New("no pairs"))

	h, ok := r.Get("bad")
	require.True(t, ok)
	assert.Equal(t, schema.StateDisabled, h.State)
	assert.Equal(t, "no pairs", h.LastError)
	assert.Zero(t, h.ErrorCount)
}

func TestSnapshotSortedCopy(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"coinbase", "binance", "bybit"} {
		r.Register(name)
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "binance", snap[0].Provider)
	assert.Equal(t, "bybit", snap[1].Provider)
	assert.Equal(t, "coinbase", snap[2].Provider)

	snap[0].ErrorCount = 99
	h, _ := r.Get("binance")
	assert.Zero(t, h.ErrorCount)
}

func TestErrorCountMonotonicUnderConcurrency(t *testing.T) {
	r := NewRegistry()
	r.Register("a")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.MarkDisconnected("a", errors.New("x"))
		}()
		go func() {
			defer wg.Done()
			r.MarkConnected("a")
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	h, _ := r.Get("a")
	assert.Equal(t, uint64(50), h.ErrorCount)
}
