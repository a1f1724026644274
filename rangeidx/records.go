package rangeidx

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

const (
	nsDirectory = "range_dir"
	nsNode      = "range_node"
)

// ErrCorruptRecord is returned when a stored record fails to decode.
var ErrCorruptRecord = errors.New("corrupt record")

// DirectoryAddress returns the address of an index instance's directory.
func DirectoryAddress(name string) ledger.Address {
	return ledger.Derive(nsDirectory, ledger.StringKey(name))
}

// NodeAddress returns the address of the node covering [start, end].
func NodeAddress(name string, start, end uint64) ledger.Address {
	return ledger.Derive(nsNode, ledger.StringKey(name), ledger.Uint64Key(start), ledger.Uint64Key(end))
}

// Range is an inclusive interval of the value domain.
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v uint64) bool {
	return v >= r.Start && v <= r.End
}

// Intersects reports whether two ranges share any value.
func (r Range) Intersects(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Directory lists the active, non-overlapping ranges of one index instance,
// sorted by start. It exists so node location never needs a scan over node
// records.
type Directory struct {
	Name   string
	Ranges []Range
}

// MarshalBinary encodes the record as fixed-width little-endian fields with
// a length-prefixed name.
func (d Directory) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(d.Name)+4+16*len(d.Ranges))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Name)))
	buf = append(buf, d.Name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Ranges)))
	for _, r := range d.Ranges {
		buf = binary.LittleEndian.AppendUint64(buf, r.Start)
		buf = binary.LittleEndian.AppendUint64(buf, r.End)
	}
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (d *Directory) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrCorruptRecord
	}
	nLen := int(binary.LittleEndian.Uint32(data[0:4]))
	pos := 4 + nLen
	if len(data) < pos+4 {
		return ErrCorruptRecord
	}
	d.Name = string(data[4:pos])
	count := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) != pos+16*count {
		return ErrCorruptRecord
	}
	d.Ranges = make([]Range, count)
	for i := 0; i < count; i++ {
		d.Ranges[i].Start = binary.LittleEndian.Uint64(data[pos : pos+8])
		d.Ranges[i].End = binary.LittleEndian.Uint64(data[pos+8 : pos+16])
		pos += 16
	}
	return nil
}

// covering returns the range containing v, if any.
func (d *Directory) covering(v uint64) (Range, bool) {
	i := sort.Search(len(d.Ranges), func(i int) bool {
		return d.Ranges[i].End >= v
	})
	if i < len(d.Ranges) && d.Ranges[i].Contains(v) {
		return d.Ranges[i], true
	}
	return Range{}, false
}

// replace swaps one range for its two split halves, keeping sort order.
func (d *Directory) replace(old Range, left, right Range) {
	for i, r := range d.Ranges {
		if r == old {
			out := make([]Range, 0, len(d.Ranges)+1)
			out = append(out, d.Ranges[:i]...)
			out = append(out, left, right)
			out = append(out, d.Ranges[i+1:]...)
			d.Ranges = out
			return
		}
	}
}

// insertSorted adds a range, keeping sort order by start.
func (d *Directory) insertSorted(nr Range) {
	i := sort.Search(len(d.Ranges), func(i int) bool {
		return d.Ranges[i].Start >= nr.Start
	})
	d.Ranges = append(d.Ranges, Range{})
	copy(d.Ranges[i+1:], d.Ranges[i:])
	d.Ranges[i] = nr
}

// Member is one (id, value) pair held by a node.
type Member struct {
	ID    uint64
	Value uint64
}

// Node owns every member whose value falls inside its range.
type Node struct {
	Name    string
	Bounds  Range
	Members []Member
}

// MarshalBinary encodes the record.
func (n Node) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(n.Name)+20+16*len(n.Members))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Name)))
	buf = append(buf, n.Name...)
	buf = binary.LittleEndian.AppendUint64(buf, n.Bounds.Start)
	buf = binary.LittleEndian.AppendUint64(buf, n.Bounds.End)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Members)))
	for _, m := range n.Members {
		buf = binary.LittleEndian.AppendUint64(buf, m.ID)
		buf = binary.LittleEndian.AppendUint64(buf, m.Value)
	}
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (n *Node) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrCorruptRecord
	}
	nLen := int(binary.LittleEndian.Uint32(data[0:4]))
	pos := 4 + nLen
	if len(data) < pos+20 {
		return ErrCorruptRecord
	}
	n.Name = string(data[4:pos])
	n.Bounds.Start = binary.LittleEndian.Uint64(data[pos : pos+8])
	n.Bounds.End = binary.LittleEndian.Uint64(data[pos+8 : pos+16])
	count := int(binary.LittleEndian.Uint32(data[pos+16 : pos+20]))
	pos += 20
	if len(data) != pos+16*count {
		return ErrCorruptRecord
	}
	n.Members = make([]Member, count)
	for i := 0; i < count; i++ {
		n.Members[i].ID = binary.LittleEndian.Uint64(data[pos : pos+8])
		n.Members[i].Value = binary.LittleEndian.Uint64(data[pos+8 : pos+16])
		pos += 16
	}
	return nil
}
