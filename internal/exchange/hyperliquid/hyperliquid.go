package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const (
	Name            = "hyperliquid"
	DefaultEndpoint = "wss://api.hyperliquid.xyz/ws"
)

// Adapter streams the allMids channel. Hyperliquid keys mids by coin, so
// each tracked pair is identified by its base alone.
type Adapter struct {
	*exchange.Base
	coins exchange.SymbolMap
}

func New(pairs []schema.TradingPair, opts exchange.Options) *Adapter {
	return &Adapter{Base: exchange.NewBase(Name, pairs, opts, DefaultEndpoint)}
}

func (a *Adapter) Init() error {
	if err := a.Base.Init(); err != nil {
		return err
	}
	m, err := exchange.NewSymbolMap(a.Pairs(), func(p schema.TradingPair) string { return p.Base })
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	a.coins = m
	return nil
}

func (a *Adapter) Run(ctx context.Context, emit exchange.EmitFunc) error {
	if a.coins.Len() == 0 {
		return fmt.Errorf("%w: %s: not initialized", exchange.ErrAdapter, Name)
	}

	sess, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	sub := map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "allMids",
		},
	}
	if err := a.Subscribe(sess, sub); err != nil {
		return err
	}
	return a.Stream(ctx, sess, a.decode, emit)
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMids struct {
	Mids map[string]string `json:"mids"`
}

func (a *Adapter) decode(raw []byte) ([]schema.PriceUpdate, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: envelope: %w", exchange.ErrDecode, Name, err)
	}

	switch env.Channel {
	case "subscriptionResponse", "pong":
		return nil, nil
	case "allMids":
	case "error":
		return nil, fmt.Errorf("%w: %s: %s", exchange.ErrAdapter, Name, string(env.Data))
	default:
		return nil, fmt.Errorf("%w: %s: unexpected channel %q", exchange.ErrDecode, Name, env.Channel)
	}

	var data allMids
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: allMids: %w", exchange.ErrDecode, Name, err)
	}

	now := a.Now()
	out := make([]schema.PriceUpdate, 0, a.coins.Len())
	for _, coin := range a.coins.Natives() {
		mid, ok := data.Mids[coin]
		if !ok {
			continue
		}
		price, err := exchange.ParsePrice(mid)
		if err != nil {
			a.Liveness().DecodeFailed()
			continue
		}
		pair, _ := a.coins.Pair(coin)
		f, _ := price.Float64()
		out = append(out, schema.PriceUpdate{
			Provider:   Name,
			Pair:       pair,
			Price:      f,
			ObservedAt: now,
		})
	}
	return out, nil
}
