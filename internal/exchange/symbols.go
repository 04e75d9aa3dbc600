package exchange

import (
	"fmt"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

// SymbolMap is the fixed mapping between tracked pairs and a provider's
// native symbols. It is read-only once built.
type SymbolMap struct {
	order      []schema.TradingPair
	toNative   map[schema.TradingPair]string
	fromNative map[string]schema.TradingPair
}

// NewSymbolMap fails with ErrConfig when two pairs share a native symbol.
func NewSymbolMap(pairs []schema.TradingPair, native func(schema.TradingPair) string) (SymbolMap, error) {
	m := SymbolMap{
		order:      make([]schema.TradingPair, 0, len(pairs)),
		toNative:   make(map[schema.TradingPair]string, len(pairs)),
		fromNative: make(map[string]schema.TradingPair, len(pairs)),
	}
	for _, p := range pairs {
		sym := native(p)
		if prev, ok := m.fromNative[sym]; ok {
			return SymbolMap{}, fmt.Errorf("%w: %s and %s both map to %q", ErrConfig, prev, p, sym)
		}
		m.order = append(m.order, p)
		m.toNative[p] = sym
		m.fromNative[sym] = p
	}
	return m, nil
}

func (m SymbolMap) Native(p schema.TradingPair) (string, bool) {
	s, ok := m.toNative[p]
	return s, ok
}

func (m SymbolMap) Pair(native string) (schema.TradingPair, bool) {
	p, ok := m.fromNative[native]
	return p, ok
}

// Natives lists native symbols in pair order.
func (m SymbolMap) Natives() []string {
	out := make([]string, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, m.toNative[p])
	}
	return out
}

func (m SymbolMap) Len() int { return len(m.order) }
