// Package aggregator is the single consumer of normalized updates. It keeps
// the latest price per (provider, pair) and forwards accepted updates to a
// sink.
package aggregator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

// Sink receives accepted updates. Delivery is at most once; a failed publish
// is not retried here.
type Sink interface {
	Publish(ctx context.Context, provider string, pair schema.TradingPair, price float64, observedAt time.Time) error
}

const DefaultPublishTimeout = 2 * time.Second

type Aggregator struct {
	table          *Table
	sink           Sink
	log            *slog.Logger
	publishTimeout time.Duration

	accepted     atomic.Uint64
	ignored      atomic.Uint64
	sinkFailures atomic.Uint64
}

func New(table *Table, sink Sink, publishTimeout time.Duration, log *slog.Logger) *Aggregator {
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Aggregator{
		table:          table,
		sink:           sink,
		log:            log.With("component", "aggregator"),
		publishTimeout: publishTimeout,
	}
}

func (a *Aggregator) Table() *Table { return a.table }

// Run consumes in until it is closed. When ctx is cancelled first, updates
// already buffered in in are still applied before Run returns.
func (a *Aggregator) Run(ctx context.Context, in <-chan schema.PriceUpdate) {
	for {
		select {
		case u, ok := <-in:
			if !ok {
				a.log.Info("input closed", "accepted", a.accepted.Load(), "ignored", a.ignored.Load())
				return
			}
			a.handle(ctx, u)
		case <-ctx.Done():
			n := a.drain(ctx, in)
			a.log.Info("stopped", "drained", n, "accepted", a.accepted.Load())
			return
		}
	}
}

func (a *Aggregator) drain(ctx context.Context, in <-chan schema.PriceUpdate) int {
	n := 0
	for {
		select {
		case u, ok := <-in:
			if !ok {
				return n
			}
			a.handle(ctx, u)
			n++
		default:
			return n
		}
	}
}

func (a *Aggregator) handle(ctx context.Context, u schema.PriceUpdate) {
	if !a.table.Upsert(u) {
		a.ignored.Add(1)
		return
	}
	a.accepted.Add(1)

	// publish outlives cancellation so drained updates still reach the sink
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.publishTimeout)
	defer cancel()
	if err := a.sink.Publish(pubCtx, u.Provider, u.Pair, u.Price, u.ObservedAt); err != nil {
		a.sinkFailures.Add(1)
		a.log.Debug("publish failed", "provider", u.Provider, "pair", u.Pair.String(), "error", err)
	}
}

func (a *Aggregator) Accepted() uint64     { return a.accepted.Load() }
func (a *Aggregator) Ignored() uint64      { return a.ignored.Load() }
func (a *Aggregator) SinkFailures() uint64 { return a.sinkFailures.Load() }
