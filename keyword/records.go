package keyword

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

const (
	nsRoot  = "keyword_root"
	nsShard = "keyword_shard"
)

// ErrCorruptRecord is returned when a stored record fails to decode.
var ErrCorruptRecord = errors.New("corrupt record")

// RootAddress returns the address of a keyword's root record.
func RootAddress(keyword string) ledger.Address {
	return ledger.Derive(nsRoot, ledger.StringKey(keyword))
}

// ShardAddress returns the address of one shard in a keyword's chain.
func ShardAddress(keyword string, shardIndex uint32) ledger.Address {
	return ledger.Derive(nsShard, ledger.StringKey(keyword), ledger.Uint32Key(shardIndex))
}

// Root tracks a keyword's shard chain. Roots are never deleted, even when
// empty, so shard addressing stays stable.
type Root struct {
	Keyword      string
	ShardCount   uint32
	TotalMembers uint32
}

// MarshalBinary encodes the record as fixed-width little-endian fields with
// a length-prefixed keyword.
func (r Root) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(r.Keyword)+8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Keyword)))
	buf = append(buf, r.Keyword...)
	buf = binary.LittleEndian.AppendUint32(buf, r.ShardCount)
	buf = binary.LittleEndian.AppendUint32(buf, r.TotalMembers)
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (r *Root) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrCorruptRecord
	}
	kLen := binary.LittleEndian.Uint32(data[0:4])
	if uint32(len(data)) != 4+kLen+8 {
		return ErrCorruptRecord
	}
	r.Keyword = string(data[4 : 4+kLen])
	r.ShardCount = binary.LittleEndian.Uint32(data[4+kLen : 8+kLen])
	r.TotalMembers = binary.LittleEndian.Uint32(data[8+kLen : 12+kLen])
	return nil
}

// Shard holds one capacity-bounded segment of a keyword's member list plus a
// membership pre-filter: a flat bit array with zero false negatives and
// approximate false positives.
type Shard struct {
	Keyword    string
	ShardIndex uint32
	Members    []uint64
	Filter     []byte
}

// NewShard creates an empty shard with a filter sized filterBits.
func NewShard(keyword string, shardIndex, filterBits uint32) Shard {
	return Shard{
		Keyword:    keyword,
		ShardIndex: shardIndex,
		Filter:     make([]byte, (filterBits+7)/8),
	}
}

// MarshalBinary encodes the record: length-prefixed keyword, shard index,
// member count, fixed-width member ids, filter length, filter bytes.
func (s Shard) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(s.Keyword)+12+8*len(s.Members)+len(s.Filter))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Keyword)))
	buf = append(buf, s.Keyword...)
	buf = binary.LittleEndian.AppendUint32(buf, s.ShardIndex)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Members)))
	for _, id := range s.Members {
		buf = binary.LittleEndian.AppendUint64(buf, id)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Filter)))
	buf = append(buf, s.Filter...)
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (s *Shard) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrCorruptRecord
	}
	kLen := int(binary.LittleEndian.Uint32(data[0:4]))
	pos := 4 + kLen
	if len(data) < pos+8 {
		return ErrCorruptRecord
	}
	s.Keyword = string(data[4:pos])
	s.ShardIndex = binary.LittleEndian.Uint32(data[pos : pos+4])
	count := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
	pos += 8
	if len(data) < pos+8*count+4 {
		return ErrCorruptRecord
	}
	s.Members = make([]uint64, count)
	for i := 0; i < count; i++ {
		s.Members[i] = binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
	}
	fLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) != pos+fLen {
		return ErrCorruptRecord
	}
	s.Filter = make([]byte, fLen)
	copy(s.Filter, data[pos:])
	return nil
}

// filterSlot maps an id onto a filter bit position.
func filterSlot(id uint64, filterBits uint32) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return uint32(xxhash.Sum64(b[:]) % uint64(filterBits))
}

// MarkFilter sets the filter bit for id.
func (s *Shard) MarkFilter(id uint64, filterBits uint32) {
	slot := filterSlot(id, filterBits)
	s.Filter[slot/8] |= 1 << (slot % 8)
}

// MayContain reports whether id could be a member. False means definitely
// absent; true may be a false positive.
func (s *Shard) MayContain(id uint64, filterBits uint32) bool {
	slot := filterSlot(id, filterBits)
	byteIdx := slot / 8
	if byteIdx >= uint32(len(s.Filter)) {
		return false
	}
	return s.Filter[byteIdx]&(1<<(slot%8)) != 0
}
