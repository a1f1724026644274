package ledger

import (
	"fmt"
	"sync"
)

var _ Ledger = (*MemoryLedger)(nil)

type record struct {
	data    []byte
	version uint64
}

// MemoryLedger is an in-memory Ledger backed by a Go map. Commits are
// serialized by a single writer lock and validated against the versions each
// transaction read, so concurrent transactions on overlapping records behave
// like serialized commits: the later one either observes the earlier one's
// effects or fails with ErrConflict.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[Address]*record
	nextVer uint64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[Address]*record),
		nextVer: 1,
	}
}

// Get returns the committed record at addr.
func (l *MemoryLedger) Get(addr Address) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[addr]
	if !ok {
		return nil, false
	}
	return rec.data, true
}

// Begin starts a new transaction.
func (l *MemoryLedger) Begin() *Tx {
	return newTx(l)
}

// Len returns the number of committed records.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *MemoryLedger) load(addr Address) ([]byte, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[addr]
	if !ok {
		return nil, 0, false
	}
	return rec.data, rec.version, true
}

func (l *MemoryLedger) commit(reads map[Address]uint64, writes map[Address]*stagedWrite) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate reads: version 0 means the transaction observed absence.
	for addr, version := range reads {
		rec, ok := l.records[addr]
		switch {
		case !ok && version != 0:
			return fmt.Errorf("%w: record %s deleted since read", ErrConflict, addr)
		case ok && rec.version != version:
			return fmt.Errorf("%w: record %s changed since read", ErrConflict, addr)
		}
	}

	// Validate creates against committed state.
	for addr, w := range writes {
		if w.kind == writeCreate {
			if _, ok := l.records[addr]; ok {
				return fmt.Errorf("%w: %s", ErrAddressCollision, addr)
			}
		}
	}

	for addr, w := range writes {
		switch w.kind {
		case writeDelete:
			delete(l.records, addr)
		default:
			l.nextVer++
			l.records[addr] = &record{data: w.data, version: l.nextVer}
		}
	}
	return nil
}
