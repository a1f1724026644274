package keyword

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

const testFilterBits = 256

func newTestIndex(maxMembers uint32) (*Index, *ledger.MemoryLedger) {
	return New(maxMembers, testFilterBits), ledger.NewMemoryLedger()
}

func commit(t *testing.T, tx *ledger.Tx) {
	t.Helper()
	require.NoError(t, tx.Commit())
}

func TestInitialize(t *testing.T) {
	ix, led := newTestIndex(10)

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	commit(t, tx)

	count, err := ix.Count(led, "laptop")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), count)

	tx = led.Begin()
	assert.ErrorIs(t, ix.Initialize(tx, "laptop"), ErrAlreadyExists)
}

func TestEnsureInitialized(t *testing.T) {
	ix, led := newTestIndex(10)

	tx := led.Begin()
	require.NoError(t, ix.EnsureInitialized(tx, "laptop"))
	require.NoError(t, ix.EnsureInitialized(tx, "laptop"))
	commit(t, tx)

	ids, err := ix.Lookup(led, "laptop", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertAndLookup(t *testing.T) {
	ix, led := newTestIndex(10)

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, ix.Insert(tx, "laptop", id))
	}
	commit(t, tx)

	ids, err := ix.Lookup(led, "laptop", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids)

	count, err := ix.Count(led, "laptop")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), count)
}

func TestLookupPagination(t *testing.T) {
	ix, led := newTestIndex(3) // members spread over several shards

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	commit(t, tx)

	for id := uint64(1); id <= 8; id++ {
		tx := led.Begin()
		err := ix.Insert(tx, "laptop", id)
		var full *ShardFullError
		if errors.As(err, &full) {
			grow := led.Begin()
			_, err = ix.AppendShard(grow, "laptop")
			require.NoError(t, err)
			commit(t, grow)
			tx = led.Begin()
			err = ix.Insert(tx, "laptop", id)
		}
		require.NoError(t, err)
		commit(t, tx)
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []uint64
	}{
		{"All", 0, 0, []uint64{1, 2, 3, 4, 5, 6, 7, 8}},
		{"FirstPage", 0, 3, []uint64{1, 2, 3}},
		{"CrossShard", 2, 3, []uint64{3, 4, 5}},
		{"LastPartial", 6, 5, []uint64{7, 8}},
		{"PastEnd", 10, 3, nil},
		{"NegativeOffset", -1, 2, []uint64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := ix.Lookup(led, "laptop", tt.offset, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestInsertShardFull(t *testing.T) {
	ix, led := newTestIndex(2)

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	require.NoError(t, ix.Insert(tx, "laptop", 1))
	require.NoError(t, ix.Insert(tx, "laptop", 2))
	commit(t, tx)

	tx = led.Begin()
	err := ix.Insert(tx, "laptop", 3)
	var full *ShardFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "laptop", full.Keyword)
	assert.Equal(t, uint32(1), full.NextIndex)

	// Grow the chain in its own commit, then the insert lands in shard 1.
	tx = led.Begin()
	index, err := ix.AppendShard(tx, "laptop")
	require.NoError(t, err)
	commit(t, tx)
	assert.Equal(t, uint32(1), index)

	tx = led.Begin()
	require.NoError(t, ix.Insert(tx, "laptop", 3))
	commit(t, tx)

	ids, err := ix.Lookup(led, "laptop", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestCreateShardOutOfSequence(t *testing.T) {
	ix, led := newTestIndex(2)

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	commit(t, tx)

	tx = led.Begin()
	assert.ErrorIs(t, ix.CreateShard(tx, "laptop", 2), ErrInvalidShardIndex)
	tx = led.Begin()
	assert.ErrorIs(t, ix.CreateShard(tx, "laptop", 0), ErrInvalidShardIndex)
}

func TestRemove(t *testing.T) {
	ix, led := newTestIndex(2) // force multiple shards

	tx := led.Begin()
	require.NoError(t, ix.Initialize(tx, "laptop"))
	require.NoError(t, ix.Insert(tx, "laptop", 1))
	require.NoError(t, ix.Insert(tx, "laptop", 2))
	commit(t, tx)
	tx = led.Begin()
	_, err := ix.AppendShard(tx, "laptop")
	require.NoError(t, err)
	commit(t, tx)
	tx = led.Begin()
	require.NoError(t, ix.Insert(tx, "laptop", 3))
	commit(t, tx)

	// Remove from the second shard.
	tx = led.Begin()
	removed, err := ix.Remove(tx, "laptop", 3)
	require.NoError(t, err)
	assert.True(t, removed)
	commit(t, tx)

	ids, err := ix.Lookup(led, "laptop", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	count, err := ix.Count(led, "laptop")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)

	// Absent member and unknown keyword remove nothing.
	tx = led.Begin()
	removed, err = ix.Remove(tx, "laptop", 99)
	require.NoError(t, err)
	assert.False(t, removed)

	tx = led.Begin()
	removed, err = ix.Remove(tx, "unknown", 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLookupUnknownKeyword(t *testing.T) {
	ix, led := newTestIndex(10)
	ids, err := ix.Lookup(led, "unknown", 0, 10)
	require.NoError(t, err)
	assert.Nil(t, ids)

	count, err := ix.Count(led, "unknown")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), count)
}

func TestFilterNoFalseNegatives(t *testing.T) {
	shard := NewShard("laptop", 0, testFilterBits)
	for id := uint64(0); id < 1000; id++ {
		shard.MarkFilter(id, testFilterBits)
		assert.True(t, shard.MayContain(id, testFilterBits))
	}
}

func TestFilterRejectsSome(t *testing.T) {
	shard := NewShard("laptop", 0, testFilterBits)
	shard.MarkFilter(1, testFilterBits)

	rejected := 0
	for id := uint64(100); id < 200; id++ {
		if !shard.MayContain(id, testFilterBits) {
			rejected++
		}
	}
	// A single marked id should leave almost all filter bits clear.
	assert.Greater(t, rejected, 90)
}

func TestShardCodec(t *testing.T) {
	in := NewShard("laptop", 3, testFilterBits)
	in.Members = []uint64{10, 20, 30}
	in.MarkFilter(10, testFilterBits)
	in.MarkFilter(20, testFilterBits)
	in.MarkFilter(30, testFilterBits)

	data, err := in.MarshalBinary()
	require.NoError(t, err)
	var out Shard
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, in, out)
}
