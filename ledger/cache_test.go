package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, led Ledger, addr Address, data []byte) {
	t.Helper()
	tx := led.Begin()
	if _, ok := tx.Get(addr); ok {
		require.NoError(t, tx.Put(addr, data))
	} else {
		require.NoError(t, tx.Create(addr, data))
	}
	require.NoError(t, tx.Commit())
}

func TestCachedLedgerServesStaleWithinTTL(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, time.Minute)

	addr := Derive("test", StringKey("a"))
	put(t, inner, addr, []byte("v1"))

	data, ok := cached.Get(addr)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	// Write directly through the inner ledger; the cache keeps serving the
	// old value until the TTL passes.
	put(t, inner, addr, []byte("v2"))
	data, _ = cached.Get(addr)
	assert.Equal(t, []byte("v1"), data)
}

func TestCachedLedgerExpiry(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, time.Minute)
	now := time.Now()
	cached.now = func() time.Time { return now }

	addr := Derive("test", StringKey("a"))
	put(t, inner, addr, []byte("v1"))
	_, _ = cached.Get(addr)

	put(t, inner, addr, []byte("v2"))
	now = now.Add(2 * time.Minute)

	data, ok := cached.Get(addr)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}

func TestCachedLedgerNegativeCaching(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, time.Minute)

	addr := Derive("test", StringKey("a"))
	_, ok := cached.Get(addr)
	require.False(t, ok)

	// Absence is cached too; a direct inner write stays invisible.
	put(t, inner, addr, []byte("v1"))
	_, ok = cached.Get(addr)
	assert.False(t, ok)
}

func TestCachedLedgerCommitInvalidates(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, time.Minute)

	addr := Derive("test", StringKey("a"))
	put(t, inner, addr, []byte("v1"))
	_, _ = cached.Get(addr)

	// A commit through the cached ledger invalidates the touched address.
	put(t, cached, addr, []byte("v2"))

	data, ok := cached.Get(addr)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}

func TestCachedLedgerZeroTTLPassthrough(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, 0)

	addr := Derive("test", StringKey("a"))
	put(t, inner, addr, []byte("v1"))
	data, ok := cached.Get(addr)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	put(t, inner, addr, []byte("v2"))
	data, _ = cached.Get(addr)
	assert.Equal(t, []byte("v2"), data)
}

func TestCachedLedgerTxReadsBypassCache(t *testing.T) {
	inner := NewMemoryLedger()
	cached := NewCachedLedger(inner, time.Minute)

	addr := Derive("test", StringKey("a"))
	put(t, inner, addr, []byte("v1"))
	_, _ = cached.Get(addr)
	put(t, inner, addr, []byte("v2"))

	tx := cached.Begin()
	data, ok := tx.Get(addr)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
	require.NoError(t, tx.Commit())
}
