package ledger

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryLedger()
	tx := src.Begin()
	for i := 0; i < 100; i++ {
		addr := Derive("test", Uint64Key(uint64(i)))
		require.NoError(t, tx.Create(addr, []byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, tx.Commit())

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf))

	dst := NewMemoryLedger()
	require.NoError(t, dst.LoadSnapshot(&buf))

	require.Equal(t, src.Len(), dst.Len())
	for i := 0; i < 100; i++ {
		addr := Derive("test", Uint64Key(uint64(i)))
		data, ok := dst.Get(addr)
		require.True(t, ok)
		assert.Equal(t, []byte(fmt.Sprintf("value-%d", i)), data)
	}

	// Restored ledger must still accept transactions.
	tx = dst.Begin()
	require.NoError(t, tx.Put(Derive("test", Uint64Key(0)), []byte("updated")))
	require.NoError(t, tx.Commit())
}

func TestSnapshotEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMemoryLedger().SaveSnapshot(&buf))

	dst := NewMemoryLedger()
	require.NoError(t, dst.LoadSnapshot(&buf))
	assert.Equal(t, 0, dst.Len())
}

func TestSnapshotReplacesState(t *testing.T) {
	src := NewMemoryLedger()
	tx := src.Begin()
	require.NoError(t, tx.Create(Derive("test", StringKey("kept")), []byte("v")))
	require.NoError(t, tx.Commit())

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf))

	dst := NewMemoryLedger()
	tx = dst.Begin()
	require.NoError(t, tx.Create(Derive("test", StringKey("dropped")), []byte("v")))
	require.NoError(t, tx.Commit())

	require.NoError(t, dst.LoadSnapshot(&buf))
	_, ok := dst.Get(Derive("test", StringKey("dropped")))
	assert.False(t, ok)
	_, ok = dst.Get(Derive("test", StringKey("kept")))
	assert.True(t, ok)
}

func TestSnapshotCorrupt(t *testing.T) {
	src := NewMemoryLedger()
	tx := src.Begin()
	require.NoError(t, tx.Create(Derive("test", StringKey("a")), []byte("payload")))
	require.NoError(t, tx.Commit())

	t.Run("Truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, src.SaveSnapshot(&buf))
		// zstd frames its payload; corrupt the compressed stream itself.
		raw := buf.Bytes()[:buf.Len()/2]
		err := NewMemoryLedger().LoadSnapshot(bytes.NewReader(raw))
		assert.Error(t, err)
	})

	t.Run("BadMagic", func(t *testing.T) {
		err := NewMemoryLedger().LoadSnapshot(bytes.NewReader([]byte("not a snapshot")))
		assert.Error(t, err)
	})
}

func TestLocalSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing.snap")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "state.snap", []byte("blob-1")))
	data, err := store.Get(ctx, "state.snap")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-1"), data)

	// Put replaces.
	require.NoError(t, store.Put(ctx, "state.snap", []byte("blob-2")))
	data, err = store.Get(ctx, "state.snap")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-2"), data)
}
