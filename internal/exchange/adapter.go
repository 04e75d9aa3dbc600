// Package exchange defines the provider adapter contract and the helpers
// shared by every provider implementation.
package exchange

import (
	"context"
	"errors"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

var (
	ErrConfig  = errors.New("adapter config error")
	ErrAdapter = errors.New("adapter error")
	ErrDecode  = errors.New("decode error")
)

// EmitFunc hands one normalized update to the supervisor. It may block and
// must be called from the goroutine running Run.
type EmitFunc func(schema.PriceUpdate)

// Adapter speaks one provider's wire protocol.
//
// Run dials, subscribes to every tracked pair and streams until the session
// ends. It returns nil on a clean remote close or when ctx is cancelled, and
// an error for connection, transport, timeout and subscription failures.
// Malformed frames never end Run; they are counted in DecodeErrors.
type Adapter interface {
	Name() string
	Init() error
	Pairs() []schema.TradingPair
	Run(ctx context.Context, emit EmitFunc) error
	IsHealthy() bool
	DecodeErrors() uint64
}
