package ledger

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	snapshotMagic   = "CATLSNAP"
	snapshotVersion = 1
)

// ErrSnapshotCorrupt is returned when a snapshot fails structural or
// checksum validation.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// SaveSnapshot writes the full committed state to w as a zstd-compressed,
// checksummed stream.
//
// Layout inside the compressed stream (all integers little-endian):
//
//	[magic 8][version u32][count u64]
//	count * ([addr 16][version u64][len u32][data])
//	[xxhash u64 over everything after the header]
func (l *MemoryLedger) SaveSnapshot(w io.Writer) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	sum := xxhash.New()
	out := io.MultiWriter(zw, sum)

	header := make([]byte, 0, 20)
	header = append(header, snapshotMagic...)
	header = binary.LittleEndian.AppendUint32(header, snapshotVersion)
	header = binary.LittleEndian.AppendUint64(header, uint64(len(l.records)))
	if _, err := zw.Write(header); err != nil {
		return err
	}

	var scratch [28]byte
	for addr, rec := range l.records {
		copy(scratch[:16], addr[:])
		binary.LittleEndian.PutUint64(scratch[16:24], rec.version)
		binary.LittleEndian.PutUint32(scratch[24:28], uint32(len(rec.data)))
		if _, err := out.Write(scratch[:]); err != nil {
			return err
		}
		if _, err := out.Write(rec.data); err != nil {
			return err
		}
	}

	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], sum.Sum64())
	if _, err := zw.Write(tail[:]); err != nil {
		return err
	}
	return zw.Close()
}

// LoadSnapshot replaces the ledger's committed state with the contents of a
// snapshot produced by SaveSnapshot.
func (l *MemoryLedger) LoadSnapshot(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	br := bufio.NewReader(zr)

	header := make([]byte, 20)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("%w: short header: %w", ErrSnapshotCorrupt, err)
	}
	if string(header[:8]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrSnapshotCorrupt)
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, v)
	}
	count := binary.LittleEndian.Uint64(header[12:20])

	sum := xxhash.New()
	records := make(map[Address]*record, count)
	maxVersion := uint64(0)

	var scratch [28]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, scratch[:]); err != nil {
			return fmt.Errorf("%w: short record header: %w", ErrSnapshotCorrupt, err)
		}
		_, _ = sum.Write(scratch[:])

		var addr Address
		copy(addr[:], scratch[:16])
		version := binary.LittleEndian.Uint64(scratch[16:24])
		size := binary.LittleEndian.Uint32(scratch[24:28])

		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("%w: short record payload: %w", ErrSnapshotCorrupt, err)
		}
		_, _ = sum.Write(data)

		records[addr] = &record{data: data, version: version}
		if version > maxVersion {
			maxVersion = version
		}
	}

	var tail [8]byte
	if _, err := io.ReadFull(br, tail[:]); err != nil {
		return fmt.Errorf("%w: missing checksum: %w", ErrSnapshotCorrupt, err)
	}
	if binary.LittleEndian.Uint64(tail[:]) != sum.Sum64() {
		return fmt.Errorf("%w: checksum mismatch", ErrSnapshotCorrupt)
	}

	l.mu.Lock()
	l.records = records
	l.nextVer = maxVersion + 1
	l.mu.Unlock()
	return nil
}

// SnapshotStore is an abstraction for durable snapshot storage.
type SnapshotStore interface {
	// Put writes a snapshot blob under name, replacing any previous one.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads the snapshot blob stored under name. Returns an error that
	// satisfies errors.Is(err, ErrNotFound) if absent.
	Get(ctx context.Context, name string) ([]byte, error)
}

var _ SnapshotStore = (*LocalSnapshotStore)(nil)

// LocalSnapshotStore stores snapshots as files in a directory.
type LocalSnapshotStore struct {
	dir string
}

// NewLocalSnapshotStore creates a store rooted at dir, creating it if needed.
func NewLocalSnapshotStore(dir string) (*LocalSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalSnapshotStore{dir: dir}, nil
}

// Put writes the blob atomically via a temp file rename.
func (s *LocalSnapshotStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Get reads the blob stored under name.
func (s *LocalSnapshotStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: snapshot %q", ErrNotFound, name)
	}
	return data, err
}
