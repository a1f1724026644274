// Package keyword implements the sharded inverted keyword index.
//
// Each distinct keyword owns a root record and a chain of capacity-bounded
// shards. Inserts always target the chain tail; when the tail is full the
// caller must create the next shard in its own commit and resubmit, mirroring
// the allocator's chunk-exhaustion pattern. Removal scans the chain using a
// per-shard membership pre-filter to skip shards that cannot contain the id.
package keyword

import (
	"errors"
	"fmt"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

var (
	// ErrAlreadyExists is returned when initializing a keyword that already
	// has a root record.
	ErrAlreadyExists = errors.New("keyword already initialized")

	// ErrInvalidShardIndex is returned when CreateShard is asked to append a
	// shard out of sequence.
	ErrInvalidShardIndex = errors.New("invalid shard index")
)

// ShardFullError is returned by Insert when the chain tail is at capacity.
// The caller should create shard Keyword/NextIndex and resubmit.
type ShardFullError struct {
	Keyword   string
	NextIndex uint32
}

func (e *ShardFullError) Error() string {
	return fmt.Sprintf("keyword shard full: %q (next shard %d)", e.Keyword, e.NextIndex)
}

// Index is the inverted keyword index. All mutating operations stage their
// writes on the supplied transaction.
type Index struct {
	maxMembersPerShard uint32
	filterBits         uint32
}

// New creates a keyword index with the given shard capacity and filter width.
func New(maxMembersPerShard, filterBits uint32) *Index {
	return &Index{maxMembersPerShard: maxMembersPerShard, filterBits: filterBits}
}

// Initialize creates the root record and the first (empty) shard for a
// keyword. Fails with ErrAlreadyExists if the keyword is already known.
func (ix *Index) Initialize(tx *ledger.Tx, kw string) error {
	rootAddr := RootAddress(kw)
	if _, ok := tx.Get(rootAddr); ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, kw)
	}

	root := Root{Keyword: kw, ShardCount: 1}
	rootData, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Create(rootAddr, rootData); err != nil {
		return err
	}

	shard := NewShard(kw, 0, ix.filterBits)
	shardData, err := shard.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Create(ShardAddress(kw, 0), shardData)
}

// EnsureInitialized initializes the keyword if it has no root record yet.
func (ix *Index) EnsureInitialized(tx *ledger.Tx, kw string) error {
	if _, ok := tx.Get(RootAddress(kw)); ok {
		return nil
	}
	return ix.Initialize(tx, kw)
}

// Insert appends id to the keyword's tail shard and marks the shard filter.
// Fails with *ShardFullError when the tail is at capacity.
func (ix *Index) Insert(tx *ledger.Tx, kw string, id uint64) error {
	root, err := ix.loadRoot(tx, kw)
	if err != nil {
		return err
	}

	tailIndex := root.ShardCount - 1
	tailAddr := ShardAddress(kw, tailIndex)
	shard, err := ix.loadShard(tx, tailAddr)
	if err != nil {
		return err
	}

	if uint32(len(shard.Members)) >= ix.maxMembersPerShard {
		return &ShardFullError{Keyword: kw, NextIndex: root.ShardCount}
	}

	shard.Members = append(shard.Members, id)
	shard.MarkFilter(id, ix.filterBits)
	shardData, err := shard.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Put(tailAddr, shardData); err != nil {
		return err
	}

	root.TotalMembers++
	rootData, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Put(RootAddress(kw), rootData)
}

// CreateShard appends an empty shard at shardIndex, which must equal the
// current shard count.
func (ix *Index) CreateShard(tx *ledger.Tx, kw string, shardIndex uint32) error {
	root, err := ix.loadRoot(tx, kw)
	if err != nil {
		return err
	}
	if shardIndex != root.ShardCount {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidShardIndex, shardIndex, root.ShardCount)
	}

	shard := NewShard(kw, shardIndex, ix.filterBits)
	shardData, err := shard.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Create(ShardAddress(kw, shardIndex), shardData); err != nil {
		return err
	}

	root.ShardCount++
	rootData, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Put(RootAddress(kw), rootData)
}

// AppendShard creates the next shard in the chain and returns its index.
func (ix *Index) AppendShard(tx *ledger.Tx, kw string) (uint32, error) {
	root, err := ix.loadRoot(tx, kw)
	if err != nil {
		return 0, err
	}
	if err := ix.CreateShard(tx, kw, root.ShardCount); err != nil {
		return 0, err
	}
	return root.ShardCount, nil
}

// Remove deletes the first occurrence of id from the keyword's chain. The
// pre-filter skips shards that cannot contain the id; a filter hit only
// triggers a scan, never a false removal. Returns whether a member was
// removed. An unknown keyword removes nothing.
func (ix *Index) Remove(tx *ledger.Tx, kw string, id uint64) (bool, error) {
	rootAddr := RootAddress(kw)
	rootData, ok := tx.Get(rootAddr)
	if !ok {
		return false, nil
	}
	var root Root
	if err := root.UnmarshalBinary(rootData); err != nil {
		return false, err
	}

	for i := uint32(0); i < root.ShardCount; i++ {
		addr := ShardAddress(kw, i)
		shard, err := ix.loadShard(tx, addr)
		if err != nil {
			return false, err
		}
		if !shard.MayContain(id, ix.filterBits) {
			continue
		}
		for j, member := range shard.Members {
			if member != id {
				continue
			}
			shard.Members = append(shard.Members[:j], shard.Members[j+1:]...)
			shardData, err := shard.MarshalBinary()
			if err != nil {
				return false, err
			}
			if err := tx.Put(addr, shardData); err != nil {
				return false, err
			}
			root.TotalMembers--
			updated, err := root.MarshalBinary()
			if err != nil {
				return false, err
			}
			if err := tx.Put(rootAddr, updated); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Lookup returns member ids in shard-chain order, paginated over the logical
// concatenation of all shards. limit <= 0 means no limit. An unknown keyword
// yields an empty result, not an error.
func (ix *Index) Lookup(r ledger.Reader, kw string, offset, limit int) ([]uint64, error) {
	if offset < 0 {
		offset = 0
	}

	rootData, ok := r.Get(RootAddress(kw))
	if !ok {
		return nil, nil
	}
	var root Root
	if err := root.UnmarshalBinary(rootData); err != nil {
		return nil, err
	}

	var out []uint64
	skipped := 0
	for i := uint32(0); i < root.ShardCount; i++ {
		shard, err := ix.loadShard(r, ShardAddress(kw, i))
		if err != nil {
			return nil, err
		}
		for _, id := range shard.Members {
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, id)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Count returns the total member count across all shards of a keyword.
func (ix *Index) Count(r ledger.Reader, kw string) (uint32, error) {
	rootData, ok := r.Get(RootAddress(kw))
	if !ok {
		return 0, nil
	}
	var root Root
	if err := root.UnmarshalBinary(rootData); err != nil {
		return 0, err
	}
	return root.TotalMembers, nil
}

func (ix *Index) loadRoot(r ledger.Reader, kw string) (Root, error) {
	data, ok := r.Get(RootAddress(kw))
	if !ok {
		return Root{}, fmt.Errorf("keyword %q: %w", kw, ledger.ErrNotFound)
	}
	var root Root
	if err := root.UnmarshalBinary(data); err != nil {
		return Root{}, err
	}
	return root, nil
}

func (ix *Index) loadShard(r ledger.Reader, addr ledger.Address) (Shard, error) {
	data, ok := r.Get(addr)
	if !ok {
		return Shard{}, fmt.Errorf("shard %s: %w", addr, ledger.ErrNotFound)
	}
	var shard Shard
	if err := shard.UnmarshalBinary(data); err != nil {
		return Shard{}, err
	}
	return shard, nil
}
