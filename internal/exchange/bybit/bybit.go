package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/transport"
)

const (
	Name            = "bybit"
	DefaultEndpoint = "wss://stream.bybit.com/v5/public/spot"

	topicPrefix = "orderbook.1."
)

// PingInterval is how often the application-level ping is sent. Bybit drops
// connections that stay silent for longer than 30s.
var PingInterval = 20 * time.Second

type Adapter struct {
	*exchange.Base
	symbols exchange.SymbolMap
}

func New(pairs []schema.TradingPair, opts exchange.Options) *Adapter {
	return &Adapter{Base: exchange.NewBase(Name, pairs, opts, DefaultEndpoint)}
}

func (a *Adapter) Init() error {
	if err := a.Base.Init(); err != nil {
		return err
	}
	m, err := exchange.NewSymbolMap(a.Pairs(), schema.TradingPair.Concat)
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	a.symbols = m
	return nil
}

func (a *Adapter) Run(ctx context.Context, emit exchange.EmitFunc) error {
	if a.symbols.Len() == 0 {
		return fmt.Errorf("%w: %s: not initialized", exchange.ErrAdapter, Name)
	}

	sess, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	args := make([]string, 0, a.symbols.Len())
	for _, sym := range a.symbols.Natives() {
		args = append(args, topicPrefix+sym)
	}
	if err := a.Subscribe(sess, request{Op: "subscribe", Args: args}); err != nil {
		return err
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go keepalive(pingCtx, sess)

	return a.Stream(ctx, sess, a.decode, emit)
}

func keepalive(ctx context.Context, sess *transport.Session) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a failed write surfaces through Receive
			if err := sess.SendJSON(request{Op: "ping"}); err != nil {
				return
			}
		}
	}
}

type request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type frame struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	TS      int64  `json:"ts"`
	Data    struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	} `json:"data"`
}

func (a *Adapter) decode(raw []byte) ([]schema.PriceUpdate, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", exchange.ErrDecode, Name, err)
	}

	if f.Op != "" {
		if f.Success != nil && !*f.Success {
			return nil, fmt.Errorf("%w: %s: %s rejected: %s", exchange.ErrAdapter, Name, f.Op, f.RetMsg)
		}
		// subscribe ack, pong
		return nil, nil
	}
	if !strings.HasPrefix(f.Topic, topicPrefix) {
		return nil, fmt.Errorf("%w: %s: unexpected topic %q", exchange.ErrDecode, Name, f.Topic)
	}

	native := f.Data.Symbol
	if native == "" {
		native = strings.TrimPrefix(f.Topic, topicPrefix)
	}
	pair, ok := a.symbols.Pair(native)
	if !ok {
		return nil, fmt.Errorf("%w: %s: untracked symbol %q", exchange.ErrDecode, Name, native)
	}

	// one-sided deltas carry no mid
	if len(f.Data.Bids) == 0 || len(f.Data.Asks) == 0 ||
		len(f.Data.Bids[0]) == 0 || len(f.Data.Asks[0]) == 0 {
		return nil, nil
	}
	mid, err := exchange.MidPrice(f.Data.Bids[0][0], f.Data.Asks[0][0])
	if err != nil {
		return nil, err
	}

	observed := a.Now()
	if f.TS > 0 {
		observed = time.UnixMilli(f.TS)
	}
	return []schema.PriceUpdate{{
		Provider:   Name,
		Pair:       pair,
		Price:      mid,
		ObservedAt: observed,
	}}, nil
}
