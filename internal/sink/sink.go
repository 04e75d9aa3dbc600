// Package sink delivers accepted price updates to downstream stores.
package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/aggregator"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

var ErrSink = errors.New("sink error")

// Log writes one structured line per accepted update.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log.With("component", "sink", "sink", "log")}
}

func (l *Log) Publish(ctx context.Context, provider string, pair schema.TradingPair, price float64, observedAt time.Time) error {
	l.log.InfoContext(ctx, "price",
		"provider", provider,
		"pair", pair.String(),
		"price", price,
		"observed_at", observedAt.UTC().Format(time.RFC3339Nano),
	)
	return nil
}

func (l *Log) Close() error { return nil }

// Multi fans one update out to every child and joins their errors.
type Multi struct {
	sinks []aggregator.Sink
}

func NewMulti(sinks ...aggregator.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Publish(ctx context.Context, provider string, pair schema.TradingPair, price float64, observedAt time.Time) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, provider, pair, price, observedAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Len() int { return len(m.sinks) }
