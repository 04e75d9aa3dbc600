package binance

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/testutil"
)

var (
	btcUSDT = schema.NewTradingPair("BTC", "USDT")
	ethUSDT = schema.NewTradingPair("ETH", "USDT")
	fixed   = time.Unix(1_700_000_000, 0)
)

func newAdapter(t *testing.T, endpoint string) *Adapter {
	t.Helper()
	a := New([]schema.TradingPair{btcUSDT, ethUSDT}, exchange.Options{
		Endpoint: endpoint,
		Now:      func() time.Time { return fixed },
	})
	require.NoError(t, a.Init())
	return a
}

func TestDecode(t *testing.T) {
	a := newAdapter(t, "")

	tests := []struct {
		name    string
		frame   string
		want    []schema.PriceUpdate
		wantErr error
	}{
		{
			name:  "book ticker",
			frame: `{"u":400900217,"s":"BTCUSDT","b":"65000.00","B":"1.2","a":"65001.00","A":"0.4"}`,
			want:  []schema.PriceUpdate{{Provider: Name, Pair: btcUSDT, Price: 65000.5, ObservedAt: fixed}},
		},
		{
			name:  "quantities do not shadow prices",
			frame: `{"u":1,"s":"ETHUSDT","b":"3000.10","B":"9999","a":"3000.30","A":"1"}`,
			want:  []schema.PriceUpdate{{Provider: Name, Pair: ethUSDT, Price: 3000.2, ObservedAt: fixed}},
		},
		{name: "subscription ack", frame: `{"result":null,"id":1}`},
		{name: "subscription rejected", frame: `{"error":{"code":2,"msg":"Invalid request"},"id":1}`, wantErr: exchange.ErrAdapter},
		{name: "untracked symbol", frame: `{"s":"SOLUSDT","b":"1","a":"2"}`, wantErr: exchange.ErrDecode},
		{name: "bad price", frame: `{"s":"ETHUSDT","b":"x","a":"2"}`, wantErr: exchange.ErrDecode},
		{name: "not json", frame: `hello`, wantErr: exchange.ErrDecode},
		{name: "unknown shape", frame: `{"e":"trade"}`, wantErr: exchange.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.decode([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	assert.ErrorIs(t, New(nil, exchange.Options{}).Init(), exchange.ErrConfig)
	assert.ErrorIs(t, New([]schema.TradingPair{btcUSDT}, exchange.Options{Endpoint: "http://x"}).Init(), exchange.ErrConfig)
}

func TestRunSubscribesAndEmits(t *testing.T) {
	srv := testutil.NewWSServer(t, func(srv *testutil.WSServer, conn *websocket.Conn) {
		if _, err := srv.ReadFrame(conn); err != nil {
			return
		}
		srv.Replay(conn, []string{
			`{"result":null,"id":1}`,
			`{"u":400900217,"s":"BTCUSDT","b":"100.00","B":"3.5","a":"102.00","A":"7.25"}`,
			`{"u":400900218,"s":"ETHUSDT","b":"10.00","B":"120","a":"11.00","A":"0.5"}`,
		}, 2*time.Second)
	})

	a := newAdapter(t, srv.Endpoint())
	c := testutil.NewCollector()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, c.Emit) }()

	got := c.WaitFor(2, 2*time.Second)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, got, 2)
	assert.Equal(t, btcUSDT, got[0].Pair)
	assert.Equal(t, 101.0, got[0].Price)
	assert.Equal(t, ethUSDT, got[1].Pair)
	assert.Equal(t, 10.5, got[1].Price)
	assert.Zero(t, a.DecodeErrors())
	assert.True(t, a.IsHealthy())

	frames := srv.Received()
	require.NotEmpty(t, frames)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@bookTicker","ethusdt@bookTicker"],"id":1}`, frames[0])
}

func TestRunEndsOnRejectedSubscription(t *testing.T) {
	srv := testutil.NewWSServer(t, func(srv *testutil.WSServer, conn *websocket.Conn) {
		if _, err := srv.ReadFrame(conn); err != nil {
			return
		}
		srv.Replay(conn, []string{`{"error":{"code":2,"msg":"Invalid request"},"id":1}`}, 5*time.Second)
	})

	a := newAdapter(t, srv.Endpoint())
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), func(schema.PriceUpdate) {}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, exchange.ErrAdapter)
		assert.Contains(t, err.Error(), "Invalid request")
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after the subscription was rejected")
	}
	assert.Zero(t, a.DecodeErrors())
}

func TestRunWithoutInit(t *testing.T) {
	a := New([]schema.TradingPair{btcUSDT}, exchange.Options{})
	assert.ErrorIs(t, a.Run(context.Background(), func(schema.PriceUpdate) {}), exchange.ErrAdapter)
}
