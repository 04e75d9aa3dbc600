// Package mock is an offline adapter that random-walks a price per tracked
// pair. It backs dry runs and tests.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const (
	DefaultInterval = 500 * time.Millisecond
	maxStep         = 0.001
)

var seedPrices = map[string]float64{
	"BTC":  65000,
	"ETH":  3500,
	"SOL":  150,
	"USDC": 1,
	"USDT": 1,
}

type Adapter struct {
	*exchange.Base
	interval time.Duration
	rng      *rand.Rand
	prices   map[schema.TradingPair]float64
}

func New(name string, pairs []schema.TradingPair, interval time.Duration, opts exchange.Options) *Adapter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Adapter{
		Base:     exchange.NewBase(name, pairs, opts, "mock://"+name),
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Init skips endpoint validation; there is no network.
func (a *Adapter) Init() error {
	if err := exchange.ValidatePairs(a.Name(), a.Pairs()); err != nil {
		return err
	}
	a.prices = make(map[schema.TradingPair]float64)
	for _, p := range a.Pairs() {
		price, ok := seedPrices[p.Base]
		if !ok {
			price = 100
		}
		a.prices[p] = price
	}
	return nil
}

// Run emits one update per pair on every tick until ctx is done.
func (a *Adapter) Run(ctx context.Context, emit exchange.EmitFunc) error {
	if a.prices == nil {
		return fmt.Errorf("%w: %s: not initialized", exchange.ErrAdapter, a.Name())
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range a.Pairs() {
				a.Deliver(schema.PriceUpdate{
					Provider:   a.Name(),
					Pair:       p,
					Price:      a.step(p),
					ObservedAt: a.Now(),
				}, emit)
			}
		}
	}
}

func (a *Adapter) step(p schema.TradingPair) float64 {
	price := a.prices[p]
	if p.Base == "USDC" || p.Base == "USDT" {
		return price
	}
	price *= 1 + (a.rng.Float64()*2-1)*maxStep
	a.prices[p] = price
	return price
}
