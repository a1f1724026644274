package rangeidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

func commit(t *testing.T, tx *ledger.Tx) {
	t.Helper()
	require.NoError(t, tx.Commit())
}

func initRange(t *testing.T, ix *Index, led ledger.Ledger, start, end uint64) {
	t.Helper()
	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, start, end))
	commit(t, tx)
}

func insert(t *testing.T, ix *Index, led ledger.Ledger, id, value uint64) {
	t.Helper()
	tx := led.Begin()
	require.NoError(t, ix.Insert(tx, id, value))
	commit(t, tx)
}

func TestRange(t *testing.T) {
	r := Range{Start: 10, End: 20}

	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(15))
	assert.True(t, r.Contains(20)) // bounds are inclusive
	assert.False(t, r.Contains(9))
	assert.False(t, r.Contains(21))

	assert.True(t, r.Intersects(Range{Start: 20, End: 30}))
	assert.True(t, r.Intersects(Range{Start: 0, End: 10}))
	assert.True(t, r.Intersects(Range{Start: 12, End: 13}))
	assert.False(t, r.Intersects(Range{Start: 21, End: 30}))
	assert.False(t, r.Intersects(Range{Start: 0, End: 9}))
}

func TestInitialize(t *testing.T) {
	ix := New("price", 100)
	led := ledger.NewMemoryLedger()

	initRange(t, ix, led, 0, 999)
	initRange(t, ix, led, 1000, 4999)

	ranges, err := ix.Ranges(led)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Start: 0, End: 999}, {Start: 1000, End: 4999}}, ranges)
}

func TestInitializeOverlap(t *testing.T) {
	ix := New("price", 100)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 100, 200)

	tests := []struct {
		name       string
		start, end uint64
	}{
		{"Identical", 100, 200},
		{"TouchingStart", 50, 100},
		{"TouchingEnd", 200, 300},
		{"Inside", 120, 130},
		{"Covering", 0, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := led.Begin()
			assert.ErrorIs(t, ix.Initialize(tx, tt.start, tt.end), ErrOverlap)
		})
	}

	// Adjacent but disjoint ranges are fine.
	initRange(t, ix, led, 201, 300)
}

func TestInsertUncovered(t *testing.T) {
	ix := New("price", 100)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 999)

	tx := led.Begin()
	assert.ErrorIs(t, ix.Insert(tx, 1, 1000), ErrUncovered)
}

func TestInsertAndQuery(t *testing.T) {
	ix := New("price", 100)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 999)
	initRange(t, ix, led, 1000, 1999)

	insert(t, ix, led, 1, 500)
	insert(t, ix, led, 2, 999)
	insert(t, ix, led, 3, 1000)
	insert(t, ix, led, 4, 1500)

	tests := []struct {
		name       string
		start, end uint64
		want       []uint64
	}{
		{"All", 0, 2000, []uint64{1, 2, 3, 4}},
		{"FirstNode", 0, 999, []uint64{1, 2}},
		{"CrossBoundary", 999, 1000, []uint64{2, 3}},
		{"PointHit", 500, 500, []uint64{1}},
		{"PointMiss", 501, 501, nil},
		{"BeyondDirectory", 5000, 9000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := ix.RangeQuery(led, tt.start, tt.end, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestQueryPagination(t *testing.T) {
	ix := New("price", 100)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 99)
	for id := uint64(1); id <= 6; id++ {
		insert(t, ix, led, id, id*10)
	}

	ids, err := ix.RangeQuery(led, 0, 99, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5}, ids)

	ids, err = ix.RangeQuery(led, 0, 99, 10, 3)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestInsertNodeFull(t *testing.T) {
	ix := New("price", 2)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 999)

	insert(t, ix, led, 1, 100)
	insert(t, ix, led, 2, 600)

	tx := led.Begin()
	err := ix.Insert(tx, 3, 700)
	var full *NodeFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "price", full.Name)
	assert.Equal(t, uint64(0), full.Start)
	assert.Equal(t, uint64(999), full.End)
}

func TestSplit(t *testing.T) {
	ix := New("price", 2)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 50000)

	insert(t, ix, led, 1, 10000)
	insert(t, ix, led, 2, 40000)

	tx := led.Begin()
	require.NoError(t, ix.Split(tx, 0, 50000))
	commit(t, tx)

	ranges, err := ix.Ranges(led)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Start: 0, End: 25000}, {Start: 25001, End: 50000}}, ranges)

	// Members are redistributed by value; queries see the same data.
	ids, err := ix.RangeQuery(led, 0, 25000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
	ids, err = ix.RangeQuery(led, 25001, 50000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)
	ids, err = ix.RangeQuery(led, 0, 50000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	// The full node accepts inserts again after the split.
	insert(t, ix, led, 3, 30000)
}

func TestSplitErrors(t *testing.T) {
	ix := New("price", 2)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 100)

	tx := led.Begin()
	assert.ErrorIs(t, ix.Split(tx, 50, 50), ErrUnsplittable)

	tx = led.Begin()
	assert.ErrorIs(t, ix.Split(tx, 0, 99), ErrNoSuchRange)
}

func TestSplitRepeated(t *testing.T) {
	ix := New("sales", 1)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 7)
	insert(t, ix, led, 1, 3)

	// [0,7] -> [0,3]+[4,7] -> [0,1]+[2,3]+[4,7]
	tx := led.Begin()
	require.NoError(t, ix.Split(tx, 0, 7))
	commit(t, tx)
	tx = led.Begin()
	require.NoError(t, ix.Split(tx, 0, 3))
	commit(t, tx)

	ranges, err := ix.Ranges(led)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Start: 0, End: 1}, {Start: 2, End: 3}, {Start: 4, End: 7}}, ranges)

	ids, err := ix.RangeQuery(led, 3, 3, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
}

func TestRemove(t *testing.T) {
	ix := New("price", 10)
	led := ledger.NewMemoryLedger()
	initRange(t, ix, led, 0, 999)
	insert(t, ix, led, 1, 100)
	insert(t, ix, led, 2, 100)

	tx := led.Begin()
	removed, err := ix.Remove(tx, 1, 100)
	require.NoError(t, err)
	assert.True(t, removed)
	commit(t, tx)

	ids, err := ix.RangeQuery(led, 0, 999, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)

	// Wrong value or uncovered value removes nothing.
	tx = led.Begin()
	removed, err = ix.Remove(tx, 2, 200)
	require.NoError(t, err)
	assert.False(t, removed)

	tx = led.Begin()
	removed, err = ix.Remove(tx, 2, 5000)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestQueryEmptyIndex(t *testing.T) {
	ix := New("price", 10)
	led := ledger.NewMemoryLedger()

	ids, err := ix.RangeQuery(led, 0, 100, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, ids)

	ranges, err := ix.Ranges(led)
	require.NoError(t, err)
	assert.Nil(t, ranges)
}
