package aggregator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

func TestUpsertKeepsNewest(t *testing.T) {
	tbl := NewTable()
	pair := schema.NewTradingPair("ETH", "USDT")

	assert.True(t, tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 1, ObservedAt: time.Unix(10, 0)}))
	assert.False(t, tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 2, ObservedAt: time.Unix(9, 0)}))
	assert.True(t, tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 3, ObservedAt: time.Unix(10, 0)}), "equal timestamps overwrite")

	q, ok := tbl.Get("A", pair)
	require.True(t, ok)
	assert.Equal(t, 3.0, q.Price)
}

func TestUpsertMonotonicUnderShuffle(t *testing.T) {
	tbl := NewTable()
	pair := schema.NewTradingPair("BTC", "USDT")

	updates := make([]schema.PriceUpdate, 200)
	for i := range updates {
		updates[i] = schema.PriceUpdate{Provider: "A", Pair: pair, Price: float64(i + 1), ObservedAt: time.Unix(int64(i), 0)}
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(updates), func(i, j int) { updates[i], updates[j] = updates[j], updates[i] })

	var maxSeen time.Time
	for _, u := range updates {
		tbl.Upsert(u)
		if u.ObservedAt.After(maxSeen) {
			maxSeen = u.ObservedAt
		}
		q, _ := tbl.Get("A", pair)
		assert.Equal(t, maxSeen, q.ObservedAt)
	}

	q, _ := tbl.Get("A", pair)
	assert.Equal(t, 200.0, q.Price)
}

func TestProvidersAreIndependent(t *testing.T) {
	tbl := NewTable()
	pair := schema.NewTradingPair("BTC", "USDT")

	tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 1, ObservedAt: time.Unix(100, 0)})
	assert.True(t, tbl.Upsert(schema.PriceUpdate{Provider: "B", Pair: pair, Price: 2, ObservedAt: time.Unix(50, 0)}))

	_, ok := tbl.Provider("C")
	assert.False(t, ok)

	cells, ok := tbl.Provider("B")
	require.True(t, ok)
	assert.Equal(t, 2.0, cells[pair].Price)

	assert.Len(t, tbl.Quotes(pair), 2)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 2, tbl.Stats().Providers)
}

func TestSnapshotIsCopy(t *testing.T) {
	tbl := NewTable()
	pair := schema.NewTradingPair("BTC", "USDT")
	tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 1, ObservedAt: time.Unix(1, 0)})

	snap := tbl.Snapshot()
	snap["A"][pair] = schema.Quote{Price: 42}
	delete(snap, "A")

	q, ok := tbl.Get("A", pair)
	require.True(t, ok)
	assert.Equal(t, 1.0, q.Price)
}

func TestMedian(t *testing.T) {
	tbl := NewTable()
	pair := schema.NewTradingPair("BTC", "USDT")
	now := time.Unix(1000, 0)

	_, _, ok := tbl.Median(pair, now, 0)
	assert.False(t, ok)

	tbl.Upsert(schema.PriceUpdate{Provider: "A", Pair: pair, Price: 100, ObservedAt: now})
	tbl.Upsert(schema.PriceUpdate{Provider: "B", Pair: pair, Price: 102, ObservedAt: now})
	tbl.Upsert(schema.PriceUpdate{Provider: "C", Pair: pair, Price: 500, ObservedAt: now.Add(-time.Hour)})

	m, n, ok := tbl.Median(pair, now, 0)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, 102.0, m)

	m, n, ok = tbl.Median(pair, now, time.Minute)
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, 101.0, m)
}
