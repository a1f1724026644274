// Package ledger provides the record storage collaborator for the catalog
// engine: deterministic address derivation, point reads of committed records,
// and atomic multi-record transactions that commit or reject as a whole.
//
// The ledger has no knowledge of the record payloads it stores. Every
// structure of the engine (tenant registry, id chunks, keyword shards, range
// nodes, items) is encoded by its owning package and stored under an address
// derived from a fixed namespace plus its natural key.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAddressCollision is returned when a Create targets an address that
	// already holds a record.
	ErrAddressCollision = errors.New("address collision")

	// ErrConflict is returned by Commit when another transaction committed a
	// change to a record this transaction read. The caller may re-run the
	// transaction against the new state.
	ErrConflict = errors.New("commit conflict")

	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("transaction already finished")
)

// Address identifies a record. Addresses are derived deterministically from a
// namespace string and the record's natural key, so every engine operation
// can compute its full record set up front.
type Address [16]byte

// String returns a short hex form for logs and error messages.
func (a Address) String() string {
	return fmt.Sprintf("%x", a[:])
}

// Derive computes the address for a namespace and key parts. The same inputs
// always yield the same address.
func Derive(namespace string, keys ...[]byte) Address {
	var a Address

	d := xxhash.New()
	_, _ = d.WriteString(namespace)
	var lenBuf [4]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(k)))
		_, _ = d.Write(lenBuf[:])
		_, _ = d.Write(k)
	}
	binary.LittleEndian.PutUint64(a[:8], d.Sum64())

	// Extend the stream so the second half is independent of the first.
	_, _ = d.WriteString("\x00#2")
	binary.LittleEndian.PutUint64(a[8:], d.Sum64())

	return a
}

// Uint32Key encodes a uint32 as a little-endian key part.
func Uint32Key(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// Uint64Key encodes a uint64 as a little-endian key part.
func Uint64Key(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// StringKey encodes a string as a key part.
func StringKey(s string) []byte {
	return []byte(s)
}

// Reader is the read-only view of record state. Both Ledger (committed state)
// and Tx (committed state overlaid with staged writes) satisfy it.
type Reader interface {
	// Get returns the record payload at addr. The returned slice must be
	// treated as read-only.
	Get(addr Address) ([]byte, bool)
}

// Ledger is the storage collaborator. Implementations must serialize commits
// so that two transactions touching an overlapping record either observe each
// other's effects or fail with ErrConflict.
type Ledger interface {
	Reader

	// Begin starts a new transaction against the current committed state.
	Begin() *Tx
}

// versionedReader is implemented by ledger backends: reads return the record
// version alongside the payload so Commit can validate reads.
type versionedReader interface {
	load(addr Address) (data []byte, version uint64, ok bool)
}

// committer applies a validated set of staged writes atomically.
type committer interface {
	versionedReader

	// commit validates every read version and applies all writes under the
	// ledger's single-writer lock. It returns ErrConflict if any read record
	// changed, ErrAddressCollision if a create target exists.
	commit(reads map[Address]uint64, writes map[Address]*stagedWrite) error
}

type writeKind uint8

const (
	writeCreate writeKind = iota + 1
	writePut
	writeDelete
)

type stagedWrite struct {
	kind writeKind
	data []byte
}

// Tx stages reads and writes against a fixed set of addresses and applies
// them in a single atomic commit. A Tx is not safe for concurrent use.
type Tx struct {
	backend  committer
	reads    map[Address]uint64
	writes   map[Address]*stagedWrite
	onCommit []func(touched []Address)
	done     bool
}

func newTx(backend committer) *Tx {
	return &Tx{
		backend: backend,
		reads:   make(map[Address]uint64),
		writes:  make(map[Address]*stagedWrite),
	}
}

// Get returns the record at addr as visible to this transaction: staged
// writes first, then committed state. Reads of committed state are recorded
// for commit-time validation.
func (tx *Tx) Get(addr Address) ([]byte, bool) {
	if w, ok := tx.writes[addr]; ok {
		if w.kind == writeDelete {
			return nil, false
		}
		return w.data, true
	}

	data, version, ok := tx.backend.load(addr)
	if _, seen := tx.reads[addr]; !seen {
		tx.reads[addr] = version // version 0 records observed absence
	}
	if !ok {
		return nil, false
	}
	return data, true
}

// Create stages a new record at addr. It fails with ErrAddressCollision if a
// record is already visible there.
func (tx *Tx) Create(addr Address, data []byte) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.Get(addr); ok {
		return fmt.Errorf("%w: %s", ErrAddressCollision, addr)
	}
	tx.writes[addr] = &stagedWrite{kind: writeCreate, data: data}
	return nil
}

// Put stages an overwrite of the record at addr. The record must be visible.
func (tx *Tx) Put(addr Address, data []byte) error {
	if tx.done {
		return ErrTxDone
	}
	if w, ok := tx.writes[addr]; ok && w.kind != writeDelete {
		w.data = data
		return nil
	}
	if _, ok := tx.Get(addr); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	tx.writes[addr] = &stagedWrite{kind: writePut, data: data}
	return nil
}

// Delete stages removal of the record at addr. The record must be visible.
func (tx *Tx) Delete(addr Address) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.Get(addr); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if w, ok := tx.writes[addr]; ok && w.kind == writeCreate {
		// Created and deleted within the same transaction: net no-op.
		delete(tx.writes, addr)
		return nil
	}
	tx.writes[addr] = &stagedWrite{kind: writeDelete}
	return nil
}

// OnCommit registers a hook invoked with the written addresses after a
// successful commit. Used by caching wrappers for invalidation.
func (tx *Tx) OnCommit(fn func(touched []Address)) {
	tx.onCommit = append(tx.onCommit, fn)
}

// Commit applies all staged writes atomically. On any validation failure
// nothing is applied and the error is returned; the Tx is finished either
// way and must not be reused.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	if len(tx.writes) == 0 {
		return nil
	}
	if err := tx.backend.commit(tx.reads, tx.writes); err != nil {
		return err
	}

	if len(tx.onCommit) > 0 {
		touched := make([]Address, 0, len(tx.writes))
		for addr := range tx.writes {
			touched = append(touched, addr)
		}
		for _, fn := range tx.onCommit {
			fn(touched)
		}
	}
	return nil
}
