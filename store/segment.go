package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/dashpay/dash-spv/header"
)

var (
	// ErrOutOfRange is thrown on reads past the last record of a segment
	// or past its capacity.
	ErrOutOfRange = errors.New("store: record offset out of range")
	// ErrNonSequentialWrite is thrown on writes to any offset other than the
	// current end of the segment. Every record offset is written exactly once.
	ErrNonSequentialWrite = errors.New("store: non-sequential segment write")
	// ErrSegmentFull is thrown on writes to a segment at capacity and signals
	// rotation to the next segment.
	ErrSegmentFull = errors.New("store: segment is full")
	// ErrCorruptSegment is thrown when a segment file size is not a whole
	// multiple of the record size, i.e. it has leftover bytes from a torn write.
	ErrCorruptSegment = errors.New("store: corrupt segment")
)

// segmentFile is one bounded append-only file of contiguous fixed-size header
// records. Records are laid out back to back with no framing, so external
// tooling can address record i at byte offset i*header.Size and detect
// corruption purely from the file size.
type segmentFile struct {
	id       uint32
	capacity uint32
	file     *os.File

	// count of committed records; grows monotonically, loaded by readers
	// without holding the writer's lock
	count atomic.Uint32
}

// segmentName formats the on-disk name for a segment id, e.g. segment_0000.dat.
func segmentName(id uint32) string {
	return fmt.Sprintf("segment_%04d.dat", id)
}

// openSegment opens or lazily creates the segment file for the given id,
// verifying that its size is a whole number of records.
func openSegment(dir string, id, capacity uint32) (*segmentFile, error) {
	path := filepath.Join(dir, segmentName(id))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: opening segment %04d: %w", id, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("store: stat segment %04d: %w", id, err)
	}

	size := info.Size()
	if leftover := size % header.Size; leftover != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s has %d leftover bytes", ErrCorruptSegment, segmentName(id), leftover)
	}

	count := uint64(size) / header.Size
	if count > uint64(capacity) {
		file.Close()
		return nil, fmt.Errorf("%w: %s holds %d records, capacity %d", ErrCorruptSegment, segmentName(id), count, capacity)
	}

	s := &segmentFile{id: id, capacity: capacity, file: file}
	s.count.Store(uint32(count))
	return s, nil
}

// readAt reads the record at the given in-segment offset.
// Safe for concurrent use with append: committed records are immutable.
func (s *segmentFile) readAt(offset uint32) ([header.Size]byte, error) {
	var rec [header.Size]byte
	if offset >= s.capacity || offset >= s.count.Load() {
		return rec, fmt.Errorf("%w: offset %d, %d records", ErrOutOfRange, offset, s.count.Load())
	}

	if _, err := s.file.ReadAt(rec[:], int64(offset)*header.Size); err != nil {
		return rec, fmt.Errorf("store: reading segment %04d offset %d: %w", s.id, offset, err)
	}
	return rec, nil
}

// append writes a record at the given offset, which must be the current end
// of the segment. Height-level visibility is published by the segment index,
// not here; the count only keeps in-segment writes sequential.
func (s *segmentFile) append(offset uint32, rec [header.Size]byte) error {
	count := s.count.Load()
	if count == s.capacity {
		return fmt.Errorf("%w: segment %04d", ErrSegmentFull, s.id)
	}
	if offset != count {
		return fmt.Errorf("%w: offset %d, tail is %d", ErrNonSequentialWrite, offset, count)
	}

	if _, err := s.file.WriteAt(rec[:], int64(offset)*header.Size); err != nil {
		return fmt.Errorf("store: writing segment %04d offset %d: %w", s.id, offset, err)
	}

	s.count.Add(1)
	return nil
}

// full reports whether the segment reached capacity.
func (s *segmentFile) full() bool {
	return s.count.Load() == s.capacity
}

// sync flushes written records to stable storage.
func (s *segmentFile) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("store: syncing segment %04d: %w", s.id, err)
	}
	return nil
}

// close syncs and releases the underlying file. Safe to call on error paths;
// the sync error, if any, is reported so a torn tail never goes unnoticed.
func (s *segmentFile) close() error {
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if syncErr != nil {
		return fmt.Errorf("store: syncing segment %04d on close: %w", s.id, syncErr)
	}
	return closeErr
}
