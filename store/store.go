package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dashpay/dash-spv/header"
)

var log = logging.Logger("spv/store")

var (
	// ErrHeightNotFound is thrown on reads past the committed tip.
	ErrHeightNotFound = errors.New("store: height not found")
	// ErrNoHead is thrown when the chain is empty.
	ErrNoHead = errors.New("store: no head")
	// ErrOpened is thrown on attempt to open an already open/in-use Store.
	ErrOpened = errors.New("store: directory is in use")
	// ErrNoHashIndex is thrown on hash lookups when no hash index was configured.
	ErrNoHashIndex = errors.New("store: hash index not configured")
)

// Store persists a chain of fixed-size block headers in append-only segment
// files and serves O(1) random access by height. Records are immutable once
// their height is committed; the tip is the single point of publication, so
// a reader that observes tip N can always read every height up to N.
//
// One Store instance owns one chain. Serving several networks means several
// Stores under separate paths, selected by the caller.
type Store struct {
	path     string
	dirLock  *flock.Flock
	manifest *Manifest

	index   *segmentIndex
	cache   *lru.Cache[uint64, *header.Header]
	hashIdx *hashIndexer

	// owns the (write record, advance index) pair
	writeLk sync.Mutex

	// guards the segments map, not the files themselves
	segLk    sync.RWMutex
	segments map[uint32]*segmentFile
}

func headersPath(path string) string  { return filepath.Join(path, "headers") }
func manifestPath(path string) string { return filepath.Join(path, "store.toml") }
func lockPath(path string) string     { return filepath.Join(path, ".lock") }

// Open opens the Store under the given directory, creating it if needed.
// The path is explicit configuration; the Store never resolves locations
// from the environment. Open takes an exclusive file lock on the directory,
// hence only one Store can own it at a time, otherwise ErrOpened is thrown.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	params := DefaultParameters()
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(headersPath(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory: %w", err)
	}

	dirLock := flock.New(lockPath(path))
	ok, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: locking directory: %w", err)
	}
	if !ok {
		return nil, ErrOpened
	}

	s, err := open(ctx, path, params)
	if err != nil {
		dirLock.Unlock() //nolint:errcheck
		return nil, err
	}

	s.dirLock = dirLock
	return s, nil
}

func open(ctx context.Context, path string, params Parameters) (*Store, error) {
	manifest, err := ensureManifest(path, params)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[uint64, *header.Header](params.CacheSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:     path,
		manifest: manifest,
		index:    newSegmentIndex(manifest.SegmentCapacity),
		cache:    cache,
		segments: make(map[uint32]*segmentFile),
	}
	if params.HashIndex != nil {
		s.hashIdx = newHashIndexer(params.HashIndex)
	}

	if err := s.recover(ctx); err != nil {
		s.closeSegments() //nolint:errcheck
		return nil, err
	}

	if tip, ok := s.index.tipHeight(); ok {
		hash, err := s.HashByHeight(tip)
		if err != nil {
			s.closeSegments() //nolint:errcheck
			return nil, err
		}
		log.Infow("store opened", "path", path, "height", tip, "hash", hash)
	} else {
		log.Infow("store opened", "path", path, "chain", "empty")
	}
	return s, nil
}

// ensureManifest loads the on-disk format descriptor, writing the default one
// on first open. An existing manifest is authoritative over the configured
// segment capacity: the layout on disk is whatever it says it is.
func ensureManifest(path string, params Parameters) (*Manifest, error) {
	mpath := manifestPath(path)
	manifest, err := loadManifest(mpath)
	switch {
	case os.IsNotExist(err):
		manifest = newManifest(params.SegmentCapacity)
		if err := saveManifest(mpath, manifest); err != nil {
			return nil, fmt.Errorf("store: writing manifest: %w", err)
		}
		return manifest, nil
	case err != nil:
		return nil, fmt.Errorf("store: reading manifest: %w", err)
	}

	return manifest, manifest.validate()
}

// recover rebuilds the in-memory index from the segment files. The files are
// ground truth: whatever record counts they hold after the leftover-bytes
// check is the chain the Store serves, so a record that was written durably
// but whose index advance never happened is simply re-committed here.
func (s *Store) recover(ctx context.Context) error {
	ids, err := s.scanSegmentIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	segs := make([]*segmentFile, len(ids))
	g, _ := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			seg, err := openSegment(headersPath(s.path), id, s.manifest.SegmentCapacity)
			if err != nil {
				return err
			}
			segs[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, seg := range segs {
			if seg != nil {
				seg.close() //nolint:errcheck
			}
		}
		return err
	}

	for _, seg := range segs {
		s.segments[seg.id] = seg
	}

	// segment ids must be contiguous from zero and every segment but the
	// last must be full, otherwise there is a hole in the height sequence
	for i, seg := range segs {
		if seg.id != uint32(i) {
			return fmt.Errorf("%w: missing %s", ErrCorruptSegment, segmentName(uint32(i)))
		}
		if i < len(segs)-1 && !seg.full() {
			return fmt.Errorf("%w: %s holds %d records, expected full %d",
				ErrCorruptSegment, segmentName(seg.id), seg.count.Load(), s.manifest.SegmentCapacity)
		}
	}

	last := segs[len(segs)-1]
	length := uint64(len(segs)-1)*uint64(s.manifest.SegmentCapacity) + uint64(last.count.Load())
	s.index.reset(length)

	return s.reconcileHashIndex(ctx)
}

// scanSegmentIDs lists the segment files present under the headers directory.
func (s *Store) scanSegmentIDs() ([]uint32, error) {
	entries, err := os.ReadDir(headersPath(s.path))
	if err != nil {
		return nil, fmt.Errorf("store: reading headers directory: %w", err)
	}

	ids := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		numeric, ok := strings.CutPrefix(name, "segment_")
		if ok {
			numeric, ok = strings.CutSuffix(numeric, ".dat")
		}
		if !ok {
			log.Warnw("ignoring stray file in headers directory", "name", name)
			continue
		}
		id, err := strconv.ParseUint(numeric, 10, 32)
		if err != nil {
			log.Warnw("ignoring stray file in headers directory", "name", name)
			continue
		}
		ids = append(ids, uint32(id))
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// reconcileHashIndex walks back from the recovered tip re-indexing any
// trailing headers whose hashes never made it into the hash index, e.g.
// after a crash between the segment sync and the index write. Appends index
// hashes in height order, so the walk stops at the first present entry.
func (s *Store) reconcileHashIndex(ctx context.Context) error {
	if s.hashIdx == nil {
		return nil
	}

	tip, ok := s.index.tipHeight()
	if !ok {
		return nil
	}

	height := tip
	for {
		hash, err := s.HashByHeight(height)
		if err != nil {
			return err
		}

		_, err = s.hashIdx.HeightByHash(ctx, hash)
		switch {
		case errors.Is(err, ErrHashNotFound):
		case err != nil:
			return err
		default:
			if height != tip {
				log.Infow("re-indexed trailing headers", "from", height+1, "to", tip)
			}
			return nil
		}

		h, err := s.GetByHeight(height)
		if err != nil {
			return err
		}
		if err := s.hashIdx.IndexTo(ctx, height, h); err != nil {
			return err
		}
		if height == 0 {
			return nil
		}
		height--
	}
}

// Append persists the given headers at the next sequential heights and
// advances the tip, reporting the new tip height. The upstream validator is
// trusted for content and ordering; the Store only enforces that heights
// stay gapless and records land at the segment tail.
//
// An interrupted Append never advances the tip: records are written and
// synced first, the index advance is last.
func (s *Store) Append(ctx context.Context, headers ...*header.Header) (uint64, error) {
	s.writeLk.Lock()
	defer s.writeLk.Unlock()

	from := s.index.nextHeight()
	if len(headers) == 0 {
		if from == 0 {
			return 0, ErrNoHead
		}
		return from - 1, nil
	}

	written := 0
	touched := make([]*segmentFile, 0, 1)
	var writeErr error
	for i, h := range headers {
		segID, offset := s.index.locate(from + uint64(i))
		seg, err := s.writeSegment(segID)
		if err != nil {
			writeErr = err
			break
		}
		if len(touched) == 0 || touched[len(touched)-1] != seg {
			touched = append(touched, seg)
		}

		if err := seg.append(offset, h.Marshal()); err != nil {
			writeErr = err
			break
		}
		written++
	}

	for _, seg := range touched {
		if err := seg.sync(); err != nil {
			// nothing past the last durable record may be published
			return 0, errors.Join(err, writeErr)
		}
	}

	if written > 0 && s.hashIdx != nil {
		if err := s.hashIdx.IndexTo(ctx, from, headers[:written]...); err != nil {
			// records are durable but unpublished; restart recovery
			// re-commits them, so surface the index failure as-is
			return 0, errors.Join(err, writeErr)
		}
	}

	for i := 0; i < written; i++ {
		if err := s.index.advance(from + uint64(i)); err != nil {
			return 0, errors.Join(err, writeErr)
		}
		s.cache.Add(from+uint64(i), headers[i])
	}

	if written == 0 {
		return 0, writeErr
	}

	newTip := from + uint64(written) - 1
	log.Infow("new head", "height", newTip, "hash", headers[written-1].Hash())
	return newTip, writeErr
}

// writeSegment returns the segment the writer should append to, creating the
// file lazily on first write to it.
func (s *Store) writeSegment(id uint32) (*segmentFile, error) {
	s.segLk.RLock()
	seg, ok := s.segments[id]
	s.segLk.RUnlock()
	if ok {
		return seg, nil
	}

	seg, err := openSegment(headersPath(s.path), id, s.manifest.SegmentCapacity)
	if err != nil {
		return nil, err
	}

	s.segLk.Lock()
	s.segments[id] = seg
	s.segLk.Unlock()
	return seg, nil
}

// RawByHeight reads the exact record bytes committed for a height.
func (s *Store) RawByHeight(height uint64) ([header.Size]byte, error) {
	var rec [header.Size]byte
	tip, ok := s.index.tipHeight()
	if !ok || height > tip {
		return rec, fmt.Errorf("%w: height %d", ErrHeightNotFound, height)
	}

	segID, offset := s.index.locate(height)
	s.segLk.RLock()
	seg, ok := s.segments[segID]
	s.segLk.RUnlock()
	if !ok {
		return rec, fmt.Errorf("%w: missing %s", ErrCorruptSegment, segmentName(segID))
	}

	return seg.readAt(offset)
}

// GetByHeight returns the decoded header committed for a height.
func (s *Store) GetByHeight(height uint64) (*header.Header, error) {
	if h, ok := s.cache.Get(height); ok {
		return h, nil
	}

	rec, err := s.RawByHeight(height)
	if err != nil {
		return nil, err
	}

	h := new(header.Header)
	if err := h.Unmarshal(rec[:]); err != nil {
		return nil, err
	}

	s.cache.Add(height, h)
	return h, nil
}

// HashByHeight recomputes the block hash for a height from the stored bytes.
// It deliberately rereads the record instead of trusting any cached decoded
// form, so the result always reflects what is actually on disk.
func (s *Store) HashByHeight(height uint64) (header.Hash, error) {
	rec, err := s.RawByHeight(height)
	if err != nil {
		return header.ZeroHash, err
	}
	return header.DoubleHashRaw(rec[:]), nil
}

// TipHeight reports the committed tip height, or false when the chain is empty.
func (s *Store) TipHeight() (uint64, bool) {
	return s.index.tipHeight()
}

// Head returns the committed tip height and its block hash.
func (s *Store) Head() (uint64, header.Hash, error) {
	tip, ok := s.index.tipHeight()
	if !ok {
		return 0, header.ZeroHash, ErrNoHead
	}

	hash, err := s.HashByHeight(tip)
	if err != nil {
		return 0, header.ZeroHash, err
	}
	return tip, hash, nil
}

// HeightByHash resolves a block hash to its height via the hash index.
func (s *Store) HeightByHash(ctx context.Context, hash header.Hash) (uint64, error) {
	if s.hashIdx == nil {
		return 0, ErrNoHashIndex
	}

	height, err := s.hashIdx.HeightByHash(ctx, hash)
	if err != nil {
		return 0, err
	}

	// cross-check against the stored bytes: an index entry must never bind
	// a hash to a height whose record hashes differently
	got, err := s.HashByHeight(height)
	if err != nil {
		return 0, err
	}
	if got != hash {
		return 0, fmt.Errorf("%w: index binds %s to height %d, stored record hashes to %s",
			ErrHashNotFound, hash, height, got)
	}
	return height, nil
}

// GetByHash returns the decoded header for a block hash via the hash index.
func (s *Store) GetByHash(ctx context.Context, hash header.Hash) (*header.Header, error) {
	height, err := s.HeightByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.GetByHeight(height)
}

// Close syncs and closes all segment files and releases the directory lock.
// The hash index datastore, if any, belongs to the caller and stays open.
func (s *Store) Close() error {
	s.writeLk.Lock()
	defer s.writeLk.Unlock()

	err := s.closeSegments()
	if s.dirLock != nil {
		err = errors.Join(err, s.dirLock.Unlock())
	}
	return err
}

func (s *Store) closeSegments() error {
	s.segLk.Lock()
	defer s.segLk.Unlock()

	var err error
	for id, seg := range s.segments {
		err = errors.Join(err, seg.close())
		delete(s.segments, id)
	}
	return err
}
