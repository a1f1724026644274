// Package idalloc implements the chunked, bitmap-backed identifier allocator.
//
// Each registered tenant owns a dense private id range. Ids are handed out
// from fixed-size chunks whose occupancy is tracked in a flat bitmap; when a
// chunk is exhausted the caller must allocate the next chunk in a separate
// commit before retrying (there is no implicit growth on the allocation
// path, keeping every commit's record set fixed).
package idalloc

import (
	"errors"
	"fmt"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

var (
	// ErrAlreadyRegistered is returned when the owner already has a tenant
	// record.
	ErrAlreadyRegistered = errors.New("tenant already registered")

	// ErrTenantNotFound is returned when no tenant record exists for the
	// owner.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrChunkIndexOverflow is returned when a tenant's id space cannot fit
	// another chunk.
	ErrChunkIndexOverflow = errors.New("tenant id space exhausted")
)

// ChunkExhaustedError is returned by AllocateID when the active chunk is
// full. The caller should allocate a new chunk and resubmit.
type ChunkExhaustedError struct {
	TenantID   uint32
	ChunkIndex uint32
}

func (e *ChunkExhaustedError) Error() string {
	return fmt.Sprintf("chunk exhausted: tenant %d chunk %d", e.TenantID, e.ChunkIndex)
}

// Allocator hands out per-tenant dense ids. All mutating operations stage
// their writes on the supplied transaction; nothing is applied until the
// caller commits.
type Allocator struct {
	chunkSize uint32
}

// New creates an allocator with the given chunk size.
func New(chunkSize uint32) *Allocator {
	return &Allocator{chunkSize: chunkSize}
}

// EnsureGlobalRoot creates the singleton GlobalRoot record if absent and
// returns the effective record. created reports whether this call staged the
// creation.
func EnsureGlobalRoot(tx *ledger.Tx, root GlobalRoot) (GlobalRoot, bool, error) {
	addr := GlobalRootAddress()
	if data, ok := tx.Get(addr); ok {
		var existing GlobalRoot
		if err := existing.UnmarshalBinary(data); err != nil {
			return GlobalRoot{}, false, err
		}
		return existing, false, nil
	}
	data, err := root.MarshalBinary()
	if err != nil {
		return GlobalRoot{}, false, err
	}
	if err := tx.Create(addr, data); err != nil {
		return GlobalRoot{}, false, err
	}
	return root, true, nil
}

// RegisterTenant assigns the next dense tenant id to owner, creating the
// tenant record and its first chunk. Fails with ErrAlreadyRegistered if the
// owner already has a tenant record.
func (a *Allocator) RegisterTenant(tx *ledger.Tx, owner string) (uint32, error) {
	tenantAddr := TenantAddress(owner)
	if _, ok := tx.Get(tenantAddr); ok {
		return 0, fmt.Errorf("%w: owner %q", ErrAlreadyRegistered, owner)
	}

	rootAddr := GlobalRootAddress()
	rootData, ok := tx.Get(rootAddr)
	if !ok {
		return 0, fmt.Errorf("global root missing: %w", ledger.ErrNotFound)
	}
	var root GlobalRoot
	if err := root.UnmarshalBinary(rootData); err != nil {
		return 0, err
	}

	root.LastTenantID++
	tenantID := root.LastTenantID

	chunk := a.newChunk(tenantID, 0)
	chunkAddr := ChunkAddress(tenantID, 0)
	chunkData, err := chunk.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Create(chunkAddr, chunkData); err != nil {
		return 0, err
	}

	tenant := Tenant{
		TenantID:       tenantID,
		LastChunkIndex: 0,
		LastLocalID:    0,
		ActiveChunk:    chunkAddr,
	}
	tenantData, err := tenant.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Create(tenantAddr, tenantData); err != nil {
		return 0, err
	}

	updated, err := root.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Put(rootAddr, updated); err != nil {
		return 0, err
	}
	return tenantID, nil
}

// Tenant loads the tenant record for owner.
func (a *Allocator) Tenant(r ledger.Reader, owner string) (Tenant, error) {
	data, ok := r.Get(TenantAddress(owner))
	if !ok {
		return Tenant{}, fmt.Errorf("%w: owner %q", ErrTenantNotFound, owner)
	}
	var t Tenant
	if err := t.UnmarshalBinary(data); err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// AllocateID hands out the next dense id from the owner's active chunk.
// Fails with *ChunkExhaustedError when the chunk is full; the caller must
// run AllocateNewChunk in its own commit and resubmit.
func (a *Allocator) AllocateID(tx *ledger.Tx, owner string) (uint64, error) {
	tenantAddr := TenantAddress(owner)
	tenant, err := a.Tenant(tx, owner)
	if err != nil {
		return 0, err
	}

	chunkData, ok := tx.Get(tenant.ActiveChunk)
	if !ok {
		return 0, fmt.Errorf("active chunk missing for tenant %d: %w", tenant.TenantID, ledger.ErrNotFound)
	}
	var chunk Chunk
	if err := chunk.UnmarshalBinary(chunkData); err != nil {
		return 0, err
	}

	if chunk.NextAvailable >= uint64(a.chunkSize) {
		return 0, &ChunkExhaustedError{TenantID: tenant.TenantID, ChunkIndex: chunk.ChunkIndex}
	}

	offset := chunk.NextAvailable
	if chunk.TestBit(offset) {
		return 0, fmt.Errorf("%w: tenant %d chunk %d offset %d already allocated",
			ErrCorruptRecord, tenant.TenantID, chunk.ChunkIndex, offset)
	}
	chunk.SetBit(offset)
	chunk.NextAvailable++

	globalID := chunk.StartID + offset

	_, localID := SplitGlobalID(globalID)
	tenant.LastLocalID = localID + 1

	updatedChunk, err := chunk.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Put(tenant.ActiveChunk, updatedChunk); err != nil {
		return 0, err
	}
	updatedTenant, err := tenant.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Put(tenantAddr, updatedTenant); err != nil {
		return 0, err
	}
	return globalID, nil
}

// AllocateNewChunk creates the owner's next chunk and makes it active. Fails
// with ErrChunkIndexOverflow when another full chunk no longer fits in the
// tenant's id space.
func (a *Allocator) AllocateNewChunk(tx *ledger.Tx, owner string) (uint32, error) {
	tenantAddr := TenantAddress(owner)
	tenant, err := a.Tenant(tx, owner)
	if err != nil {
		return 0, err
	}

	newIndex := tenant.LastChunkIndex + 1
	startLocal := uint64(newIndex) * uint64(a.chunkSize)
	if startLocal+uint64(a.chunkSize) > IDSpacePerTenant {
		return 0, fmt.Errorf("%w: tenant %d chunk %d", ErrChunkIndexOverflow, tenant.TenantID, newIndex)
	}

	chunk := a.newChunk(tenant.TenantID, newIndex)
	chunkAddr := ChunkAddress(tenant.TenantID, newIndex)
	chunkData, err := chunk.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Create(chunkAddr, chunkData); err != nil {
		return 0, err
	}

	tenant.LastChunkIndex = newIndex
	tenant.ActiveChunk = chunkAddr
	tenantData, err := tenant.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err := tx.Put(tenantAddr, tenantData); err != nil {
		return 0, err
	}
	return newIndex, nil
}

// IDExists reports whether a global id has been allocated. An id whose chunk
// record does not exist is simply not allocated; this is not an error.
func (a *Allocator) IDExists(r ledger.Reader, globalID uint64) bool {
	tenantID, localID := SplitGlobalID(globalID)
	chunkIndex := uint32(localID / uint64(a.chunkSize))
	offset := localID % uint64(a.chunkSize)

	data, ok := r.Get(ChunkAddress(tenantID, chunkIndex))
	if !ok {
		return false
	}
	var chunk Chunk
	if err := chunk.UnmarshalBinary(data); err != nil {
		return false
	}
	return chunk.TestBit(offset)
}

func (a *Allocator) newChunk(tenantID, chunkIndex uint32) Chunk {
	startID := GlobalID(tenantID, uint64(chunkIndex)*uint64(a.chunkSize))
	return Chunk{
		TenantID:      tenantID,
		ChunkIndex:    chunkIndex,
		StartID:       startID,
		EndID:         startID + uint64(a.chunkSize) - 1,
		NextAvailable: 0,
		Bitmap:        make([]byte, (a.chunkSize+7)/8),
	}
}
