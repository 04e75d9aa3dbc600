package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/transport"
)

// HealthyWindow is how recent the last decoded price must be for an adapter
// to report itself healthy.
const HealthyWindow = 10 * time.Second

// Liveness tracks the last successful decode and the decode error count.
type Liveness struct {
	lastDecode   atomic.Int64
	decodeErrors atomic.Uint64
}

func (l *Liveness) Decoded(at time.Time) { l.lastDecode.Store(at.UnixNano()) }
func (l *Liveness) DecodeFailed()        { l.decodeErrors.Add(1) }
func (l *Liveness) DecodeErrors() uint64 { return l.decodeErrors.Load() }

func (l *Liveness) LastDecode() time.Time {
	ns := l.lastDecode.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (l *Liveness) Healthy(now time.Time) bool {
	last := l.LastDecode()
	return !last.IsZero() && now.Sub(last) < HealthyWindow
}

// DecodeFunc turns one frame into price updates. A nil slice with a nil error
// marks a control frame (ack, pong, heartbeat). Errors are counted and the
// frame dropped, except ErrAdapter (the venue rejected the session), which
// ends the stream.
type DecodeFunc func(frame []byte) ([]schema.PriceUpdate, error)

// Base carries the state every provider adapter shares. Providers embed it
// and supply Init and Run.
type Base struct {
	name  string
	opts  Options
	pairs []schema.TradingPair
	live  Liveness
}

func NewBase(name string, pairs []schema.TradingPair, opts Options, defaultEndpoint string) *Base {
	return &Base{
		name:  name,
		opts:  opts.withDefaults(defaultEndpoint),
		pairs: append([]schema.TradingPair(nil), pairs...),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Pairs() []schema.TradingPair {
	return append([]schema.TradingPair(nil), b.pairs...)
}

func (b *Base) Init() error {
	if err := ValidatePairs(b.name, b.pairs); err != nil {
		return err
	}
	return ValidateOptions(b.name, b.opts)
}

func (b *Base) IsHealthy() bool      { return b.live.Healthy(b.opts.Now()) }
func (b *Base) DecodeErrors() uint64 { return b.live.DecodeErrors() }
func (b *Base) Liveness() *Liveness  { return &b.live }
func (b *Base) Now() time.Time       { return b.opts.Now() }

func (b *Base) Dial(ctx context.Context) (*transport.Session, error) {
	return transport.Dial(ctx, b.opts.Endpoint, b.opts.Transport)
}

// Deliver validates u and hands it to emit, updating liveness either way.
func (b *Base) Deliver(u schema.PriceUpdate, emit EmitFunc) bool {
	if !ValidPrice(u.Price) {
		b.live.DecodeFailed()
		return false
	}
	if u.ObservedAt.IsZero() {
		u.ObservedAt = b.opts.Now()
	}
	b.live.Decoded(b.opts.Now())
	emit(u)
	return true
}

// Stream reads frames from sess until it fails, decoding each and delivering
// the results.
func (b *Base) Stream(ctx context.Context, sess *transport.Session, decode DecodeFunc, emit EmitFunc) error {
	for {
		frame, err := sess.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrPeerClosed) {
				return nil
			}
			return fmt.Errorf("%s %s: %w", b.name, sess.Endpoint(), err)
		}

		updates, err := decode(frame)
		if errors.Is(err, ErrAdapter) {
			return err
		}
		if err != nil {
			b.live.DecodeFailed()
			continue
		}
		for _, u := range updates {
			b.Deliver(u, emit)
		}
	}
}

// Subscribe sends a subscription frame, wrapping failures as ErrAdapter.
func (b *Base) Subscribe(sess *transport.Session, msg any) error {
	if err := sess.SendJSON(msg); err != nil {
		return fmt.Errorf("%w: %s: subscribe: %w", ErrAdapter, b.name, err)
	}
	return nil
}
