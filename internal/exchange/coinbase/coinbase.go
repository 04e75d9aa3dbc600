package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const (
	Name            = "coinbase"
	DefaultEndpoint = "wss://ws-feed.exchange.coinbase.com"
)

// pegged pairs have no Coinbase product and are published at a fixed 1.0.
var pegged = map[schema.TradingPair]struct{}{
	schema.NewTradingPair("USDC", "USDT"): {},
}

type Adapter struct {
	*exchange.Base
	products exchange.SymbolMap
	pegs     []schema.TradingPair
}

func New(pairs []schema.TradingPair, opts exchange.Options) *Adapter {
	return &Adapter{Base: exchange.NewBase(Name, pairs, opts, DefaultEndpoint)}
}

func (a *Adapter) Init() error {
	if err := a.Base.Init(); err != nil {
		return err
	}

	var live []schema.TradingPair
	a.pegs = nil
	for _, p := range a.Pairs() {
		if _, ok := pegged[p]; ok {
			a.pegs = append(a.pegs, p)
			continue
		}
		live = append(live, p)
	}
	m, err := exchange.NewSymbolMap(live, schema.TradingPair.Dashed)
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	a.products = m
	return nil
}

func (a *Adapter) Run(ctx context.Context, emit exchange.EmitFunc) error {
	if a.products.Len() == 0 && len(a.pegs) == 0 {
		return fmt.Errorf("%w: %s: not initialized", exchange.ErrAdapter, Name)
	}

	sess, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if a.products.Len() > 0 {
		if err := a.Subscribe(sess, subscribeRequest{
			Type:       "subscribe",
			ProductIDs: a.products.Natives(),
			Channels:   []string{"ticker"},
		}); err != nil {
			return err
		}
	}

	for _, p := range a.pegs {
		a.Deliver(schema.PriceUpdate{Provider: Name, Pair: p, Price: 1.0, ObservedAt: a.Now()}, emit)
	}

	return a.Stream(ctx, sess, a.decode, emit)
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type message struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

func (a *Adapter) decode(raw []byte) ([]schema.PriceUpdate, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", exchange.ErrDecode, Name, err)
	}

	switch msg.Type {
	case "subscriptions", "heartbeat":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("%w: %s: %s: %s", exchange.ErrAdapter, Name, msg.Message, msg.Reason)
	case "ticker":
	default:
		return nil, fmt.Errorf("%w: %s: unexpected type %q", exchange.ErrDecode, Name, msg.Type)
	}

	pair, ok := a.products.Pair(msg.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: %s: untracked product %q", exchange.ErrDecode, Name, msg.ProductID)
	}
	mid, err := exchange.MidPrice(msg.BestBid, msg.BestAsk)
	if err != nil {
		return nil, err
	}

	observed := a.Now()
	if ts, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		observed = ts
	}
	return []schema.PriceUpdate{{
		Provider:   Name,
		Pair:       pair,
		Price:      mid,
		ObservedAt: observed,
	}}, nil
}
