package idalloc

import (
	"encoding/binary"
	"errors"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

// Record namespaces for address derivation.
const (
	nsGlobalRoot = "global_root"
	nsTenant     = "tenant"
	nsChunk      = "chunk"
)

// IDSpacePerTenant is the width of each tenant's private id range. The global
// id carries the tenant id in its high 32 bits and the local id in the low 32.
const IDSpacePerTenant = uint64(1) << 32

// ErrCorruptRecord is returned when a stored record fails to decode.
var ErrCorruptRecord = errors.New("corrupt record")

// GlobalID composes a global item id from tenant and local id.
func GlobalID(tenantID uint32, localID uint64) uint64 {
	return uint64(tenantID)*IDSpacePerTenant + localID
}

// SplitGlobalID decomposes a global id into tenant and local id.
func SplitGlobalID(globalID uint64) (tenantID uint32, localID uint64) {
	return uint32(globalID / IDSpacePerTenant), globalID % IDSpacePerTenant
}

// GlobalRootAddress returns the address of the singleton GlobalRoot record.
func GlobalRootAddress() ledger.Address {
	return ledger.Derive(nsGlobalRoot)
}

// TenantAddress returns the address of the tenant record for an owner key.
func TenantAddress(owner string) ledger.Address {
	return ledger.Derive(nsTenant, ledger.StringKey(owner))
}

// ChunkAddress returns the address of a tenant's chunk record.
func ChunkAddress(tenantID, chunkIndex uint32) ledger.Address {
	return ledger.Derive(nsChunk, ledger.Uint32Key(tenantID), ledger.Uint32Key(chunkIndex))
}

// GlobalRoot is the engine's singleton configuration record. It is created
// once and mutated only by tenant registration.
type GlobalRoot struct {
	ChunkSize          uint32
	MaxKeywordsPerItem uint8
	MaxMembersPerShard uint32
	FilterBits         uint32
	CacheTTL           uint32
	LastTenantID       uint32
}

const globalRootSize = 4 + 1 + 4 + 4 + 4 + 4

// MarshalBinary encodes the record as fixed-width little-endian fields.
func (g GlobalRoot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, globalRootSize)
	binary.LittleEndian.PutUint32(buf[0:4], g.ChunkSize)
	buf[4] = g.MaxKeywordsPerItem
	binary.LittleEndian.PutUint32(buf[5:9], g.MaxMembersPerShard)
	binary.LittleEndian.PutUint32(buf[9:13], g.FilterBits)
	binary.LittleEndian.PutUint32(buf[13:17], g.CacheTTL)
	binary.LittleEndian.PutUint32(buf[17:21], g.LastTenantID)
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (g *GlobalRoot) UnmarshalBinary(data []byte) error {
	if len(data) != globalRootSize {
		return ErrCorruptRecord
	}
	g.ChunkSize = binary.LittleEndian.Uint32(data[0:4])
	g.MaxKeywordsPerItem = data[4]
	g.MaxMembersPerShard = binary.LittleEndian.Uint32(data[5:9])
	g.FilterBits = binary.LittleEndian.Uint32(data[9:13])
	g.CacheTTL = binary.LittleEndian.Uint32(data[13:17])
	g.LastTenantID = binary.LittleEndian.Uint32(data[17:21])
	return nil
}

// Tenant is the per-registrant allocator state. TenantID is dense and
// 1-based; LastLocalID is the next local id to hand out.
type Tenant struct {
	TenantID       uint32
	LastChunkIndex uint32
	LastLocalID    uint64
	ActiveChunk    ledger.Address
}

const tenantSize = 4 + 4 + 8 + 16

// MarshalBinary encodes the record as fixed-width little-endian fields.
func (t Tenant) MarshalBinary() ([]byte, error) {
	buf := make([]byte, tenantSize)
	binary.LittleEndian.PutUint32(buf[0:4], t.TenantID)
	binary.LittleEndian.PutUint32(buf[4:8], t.LastChunkIndex)
	binary.LittleEndian.PutUint64(buf[8:16], t.LastLocalID)
	copy(buf[16:32], t.ActiveChunk[:])
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (t *Tenant) UnmarshalBinary(data []byte) error {
	if len(data) != tenantSize {
		return ErrCorruptRecord
	}
	t.TenantID = binary.LittleEndian.Uint32(data[0:4])
	t.LastChunkIndex = binary.LittleEndian.Uint32(data[4:8])
	t.LastLocalID = binary.LittleEndian.Uint64(data[8:16])
	copy(t.ActiveChunk[:], data[16:32])
	return nil
}

// Chunk is one fixed-size block of a tenant's id space. Bit i of the
// occupancy bitmap is set iff local offset i has been allocated.
type Chunk struct {
	TenantID      uint32
	ChunkIndex    uint32
	StartID       uint64
	EndID         uint64
	NextAvailable uint64
	Bitmap        []byte
}

const chunkHeaderSize = 4 + 4 + 8 + 8 + 8 + 4

// MarshalBinary encodes the record: fixed-width header followed by the flat
// occupancy bitmap.
func (c Chunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, chunkHeaderSize+len(c.Bitmap))
	binary.LittleEndian.PutUint32(buf[0:4], c.TenantID)
	binary.LittleEndian.PutUint32(buf[4:8], c.ChunkIndex)
	binary.LittleEndian.PutUint64(buf[8:16], c.StartID)
	binary.LittleEndian.PutUint64(buf[16:24], c.EndID)
	binary.LittleEndian.PutUint64(buf[24:32], c.NextAvailable)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(c.Bitmap)))
	copy(buf[chunkHeaderSize:], c.Bitmap)
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (c *Chunk) UnmarshalBinary(data []byte) error {
	if len(data) < chunkHeaderSize {
		return ErrCorruptRecord
	}
	c.TenantID = binary.LittleEndian.Uint32(data[0:4])
	c.ChunkIndex = binary.LittleEndian.Uint32(data[4:8])
	c.StartID = binary.LittleEndian.Uint64(data[8:16])
	c.EndID = binary.LittleEndian.Uint64(data[16:24])
	c.NextAvailable = binary.LittleEndian.Uint64(data[24:32])
	size := binary.LittleEndian.Uint32(data[32:36])
	if len(data) != chunkHeaderSize+int(size) {
		return ErrCorruptRecord
	}
	c.Bitmap = make([]byte, size)
	copy(c.Bitmap, data[chunkHeaderSize:])
	return nil
}

// TestBit reports whether local offset i is allocated.
func (c *Chunk) TestBit(i uint64) bool {
	byteIdx := i / 8
	if byteIdx >= uint64(len(c.Bitmap)) {
		return false
	}
	return c.Bitmap[byteIdx]&(1<<(i%8)) != 0
}

// SetBit marks local offset i as allocated.
func (c *Chunk) SetBit(i uint64) {
	c.Bitmap[i/8] |= 1 << (i % 8)
}
