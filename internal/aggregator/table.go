package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

// Table holds the latest accepted quote per (provider, pair).
type Table struct {
	mu         sync.RWMutex
	perProv    map[string]map[schema.TradingPair]schema.Quote
	lastUpdate time.Time
}

func NewTable() *Table {
	return &Table{perProv: make(map[string]map[schema.TradingPair]schema.Quote)}
}

// Upsert stores u unless the cell already holds a strictly newer quote.
// Equal timestamps overwrite.
func (t *Table) Upsert(u schema.PriceUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cells := t.ensureProvider(u.Provider)
	if cur, ok := cells[u.Pair]; ok && u.ObservedAt.Before(cur.ObservedAt) {
		return false
	}
	cells[u.Pair] = schema.Quote{Price: u.Price, ObservedAt: u.ObservedAt}
	t.lastUpdate = time.Now()
	return true
}

func (t *Table) Get(provider string, pair schema.TradingPair) (schema.Quote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.perProv[provider][pair]
	return q, ok
}

// Provider copies one provider's cells. ok is false when nothing was ever
// accepted for it.
func (t *Table) Provider(provider string) (map[schema.TradingPair]schema.Quote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cells, ok := t.perProv[provider]
	if !ok {
		return nil, false
	}
	return copyCells(cells), true
}

func (t *Table) Snapshot() map[string]map[schema.TradingPair]schema.Quote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[schema.TradingPair]schema.Quote, len(t.perProv))
	for prov, cells := range t.perProv {
		out[prov] = copyCells(cells)
	}
	return out
}

// Quotes returns every provider's quote for one pair.
func (t *Table) Quotes(pair schema.TradingPair) map[string]schema.Quote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]schema.Quote)
	for prov, cells := range t.perProv {
		if q, ok := cells[pair]; ok {
			out[prov] = q
		}
	}
	return out
}

// Median is the median price across providers whose quote for pair is no
// older than maxAge at now. A zero maxAge accepts any age.
func (t *Table) Median(pair schema.TradingPair, now time.Time, maxAge time.Duration) (float64, int, bool) {
	var prices []float64
	for _, q := range t.Quotes(pair) {
		if maxAge > 0 && now.Sub(q.ObservedAt) > maxAge {
			continue
		}
		prices = append(prices, q.Price)
	}
	if len(prices) == 0 {
		return 0, 0, false
	}
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2], n, true
	}
	return (prices[n/2-1] + prices[n/2]) / 2, n, true
}

type Stats struct {
	Providers  int
	Cells      int
	LastUpdate time.Time
}

func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Providers: len(t.perProv), LastUpdate: t.lastUpdate}
	for _, cells := range t.perProv {
		s.Cells += len(cells)
	}
	return s
}

func (t *Table) Len() int { return t.Stats().Cells }

func (t *Table) ensureProvider(provider string) map[schema.TradingPair]schema.Quote {
	cells, ok := t.perProv[provider]
	if !ok {
		cells = make(map[schema.TradingPair]schema.Quote)
		t.perProv[provider] = cells
	}
	return cells
}

func copyCells(cells map[schema.TradingPair]schema.Quote) map[schema.TradingPair]schema.Quote {
	out := make(map[schema.TradingPair]schema.Quote, len(cells))
	for k, v := range cells {
		out[k] = v
	}
	return out
}
