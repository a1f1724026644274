// Package rangeidx implements the range-partitioned secondary index used for
// item price and sales volume.
//
// An index instance is a set of non-overlapping inclusive ranges, each owning
// a capacity-bounded node of (id, value) members, plus a sorted directory of
// active range boundaries so locating a node never scans. When a node is at
// capacity, the caller must split it in its own commit and resubmit the
// insert.
package rangeidx

import (
	"errors"
	"fmt"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

var (
	// ErrOverlap is returned when Initialize would intersect an existing
	// range.
	ErrOverlap = errors.New("range overlaps existing node")

	// ErrUncovered is returned when no active range covers the value. The
	// caller must initialize a covering range first.
	ErrUncovered = errors.New("value not covered by any range")

	// ErrUnsplittable is returned when a single-value range is asked to
	// split.
	ErrUnsplittable = errors.New("range too narrow to split")

	// ErrNoSuchRange is returned when Split targets a range that is not an
	// active node.
	ErrNoSuchRange = errors.New("no node with that exact range")
)

// NodeFullError is returned by Insert when the target node is at capacity.
// The caller should split [Start, End] and resubmit.
type NodeFullError struct {
	Name  string
	Start uint64
	End   uint64
}

func (e *NodeFullError) Error() string {
	return fmt.Sprintf("range node full: %s [%d, %d]", e.Name, e.Start, e.End)
}

// Index is one range index instance (e.g. "price" or "sales").
type Index struct {
	name     string
	capacity uint32
}

// New creates an index instance with the given per-node member capacity.
func New(name string, capacity uint32) *Index {
	return &Index{name: name, capacity: capacity}
}

// Name returns the instance name.
func (ix *Index) Name() string { return ix.name }

// Initialize creates an empty node covering [start, end] and registers it in
// the directory. Fails with ErrOverlap if the range intersects an active one.
func (ix *Index) Initialize(tx *ledger.Tx, start, end uint64) error {
	if end < start {
		return fmt.Errorf("invalid range [%d, %d]: end before start", start, end)
	}

	dir, dirExists, err := ix.loadDirectory(tx)
	if err != nil {
		return err
	}
	nr := Range{Start: start, End: end}
	for _, r := range dir.Ranges {
		if r.Intersects(nr) {
			return fmt.Errorf("%w: [%d, %d] intersects [%d, %d]", ErrOverlap, start, end, r.Start, r.End)
		}
	}

	node := Node{Name: ix.name, Bounds: nr}
	nodeData, err := node.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Create(NodeAddress(ix.name, start, end), nodeData); err != nil {
		return err
	}

	dir.insertSorted(nr)
	return ix.storeDirectory(tx, dir, dirExists)
}

// Insert adds (id, value) to the node covering value. Fails with
// *NodeFullError when the node is at capacity and with ErrUncovered when no
// range covers the value.
func (ix *Index) Insert(tx *ledger.Tx, id, value uint64) error {
	dir, _, err := ix.loadDirectory(tx)
	if err != nil {
		return err
	}
	r, ok := dir.covering(value)
	if !ok {
		return fmt.Errorf("%w: %s value %d", ErrUncovered, ix.name, value)
	}

	addr := NodeAddress(ix.name, r.Start, r.End)
	node, err := ix.loadNode(tx, addr)
	if err != nil {
		return err
	}
	if uint32(len(node.Members)) >= ix.capacity {
		return &NodeFullError{Name: ix.name, Start: r.Start, End: r.End}
	}

	node.Members = append(node.Members, Member{ID: id, Value: value})
	nodeData, err := node.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Put(addr, nodeData)
}

// Split replaces the node covering exactly [start, end] with two adjacent
// half-width nodes, redistributing members by value. The whole operation is
// staged on one transaction, so it is all-or-nothing: any failure leaves the
// original node untouched.
func (ix *Index) Split(tx *ledger.Tx, start, end uint64) error {
	if end <= start {
		return fmt.Errorf("%w: [%d, %d]", ErrUnsplittable, start, end)
	}

	dir, dirExists, err := ix.loadDirectory(tx)
	if err != nil {
		return err
	}
	target := Range{Start: start, End: end}
	found := false
	for _, r := range dir.Ranges {
		if r == target {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s [%d, %d]", ErrNoSuchRange, ix.name, start, end)
	}

	addr := NodeAddress(ix.name, start, end)
	node, err := ix.loadNode(tx, addr)
	if err != nil {
		return err
	}

	mid := start + (end-start)/2
	left := Node{Name: ix.name, Bounds: Range{Start: start, End: mid}}
	right := Node{Name: ix.name, Bounds: Range{Start: mid + 1, End: end}}
	for _, m := range node.Members {
		if m.Value <= mid {
			left.Members = append(left.Members, m)
		} else {
			right.Members = append(right.Members, m)
		}
	}

	leftData, err := left.MarshalBinary()
	if err != nil {
		return err
	}
	rightData, err := right.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Delete(addr); err != nil {
		return err
	}
	if err := tx.Create(NodeAddress(ix.name, start, mid), leftData); err != nil {
		return err
	}
	if err := tx.Create(NodeAddress(ix.name, mid+1, end), rightData); err != nil {
		return err
	}

	dir.replace(target, left.Bounds, right.Bounds)
	return ix.storeDirectory(tx, dir, dirExists)
}

// Remove deletes the (id, value) pair from the node covering value. Returns
// whether a member was removed; an uncovered value removes nothing.
func (ix *Index) Remove(tx *ledger.Tx, id, value uint64) (bool, error) {
	dir, _, err := ix.loadDirectory(tx)
	if err != nil {
		return false, err
	}
	r, ok := dir.covering(value)
	if !ok {
		return false, nil
	}

	addr := NodeAddress(ix.name, r.Start, r.End)
	node, err := ix.loadNode(tx, addr)
	if err != nil {
		return false, err
	}
	for i, m := range node.Members {
		if m.ID != id || m.Value != value {
			continue
		}
		node.Members = append(node.Members[:i], node.Members[i+1:]...)
		nodeData, err := node.MarshalBinary()
		if err != nil {
			return false, err
		}
		if err := tx.Put(addr, nodeData); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RangeQuery returns member ids whose value falls in [start, end],
// concatenated in ascending range order and paginated. limit <= 0 means no
// limit. An index with no directory yields an empty result.
func (ix *Index) RangeQuery(r ledger.Reader, start, end uint64, offset, limit int) ([]uint64, error) {
	if offset < 0 {
		offset = 0
	}

	dirData, ok := r.Get(DirectoryAddress(ix.name))
	if !ok {
		return nil, nil
	}
	var dir Directory
	if err := dir.UnmarshalBinary(dirData); err != nil {
		return nil, err
	}

	query := Range{Start: start, End: end}
	var out []uint64
	skipped := 0
	for _, nr := range dir.Ranges {
		if !nr.Intersects(query) {
			continue
		}
		node, err := ix.loadNode(r, NodeAddress(ix.name, nr.Start, nr.End))
		if err != nil {
			return nil, err
		}
		for _, m := range node.Members {
			if !query.Contains(m.Value) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, m.ID)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Ranges returns the active range boundaries, sorted by start.
func (ix *Index) Ranges(r ledger.Reader) ([]Range, error) {
	dirData, ok := r.Get(DirectoryAddress(ix.name))
	if !ok {
		return nil, nil
	}
	var dir Directory
	if err := dir.UnmarshalBinary(dirData); err != nil {
		return nil, err
	}
	return dir.Ranges, nil
}

func (ix *Index) loadDirectory(r ledger.Reader) (Directory, bool, error) {
	data, ok := r.Get(DirectoryAddress(ix.name))
	if !ok {
		return Directory{Name: ix.name}, false, nil
	}
	var dir Directory
	if err := dir.UnmarshalBinary(data); err != nil {
		return Directory{}, false, err
	}
	return dir, true, nil
}

func (ix *Index) storeDirectory(tx *ledger.Tx, dir Directory, exists bool) error {
	data, err := dir.MarshalBinary()
	if err != nil {
		return err
	}
	addr := DirectoryAddress(ix.name)
	if exists {
		return tx.Put(addr, data)
	}
	return tx.Create(addr, data)
}

func (ix *Index) loadNode(r ledger.Reader, addr ledger.Address) (Node, error) {
	data, ok := r.Get(addr)
	if !ok {
		return Node{}, fmt.Errorf("range node %s: %w", addr, ledger.ErrNotFound)
	}
	var node Node
	if err := node.UnmarshalBinary(data); err != nil {
		return Node{}, err
	}
	return node, nil
}
