package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/dash-spv/header"
	"github.com/dashpay/dash-spv/headertest"
)

// hash2000 is the precomputed double-SHA256, in display form, of the
// deterministic test header at height 2000.
const hash2000 = "1d8e86900b738816810cd4436653466a407ed2e4d36356ab29778f8fa4693739"

func TestStoreAppendGet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir(), WithSegmentCapacity(800))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, ok := s.TipHeight()
	require.False(t, ok)
	_, _, err = s.Head()
	require.ErrorIs(t, err, ErrNoHead)

	suite := headertest.NewTestSuite(t)
	headers := suite.GenHeaders(2001)
	tip, err := s.Append(ctx, headers...)
	require.NoError(t, err)
	require.EqualValues(t, 2000, tip)

	// the 2001st appended record comes back byte for byte
	want := headers[2000].Marshal()
	raw, err := s.RawByHeight(2000)
	require.NoError(t, err)
	assert.Equal(t, want, raw)

	got, err := s.GetByHeight(2000)
	require.NoError(t, err)
	assert.Equal(t, headers[2000], got)

	// and hashes to the externally precomputed value
	hash, err := s.HashByHeight(2000)
	require.NoError(t, err)
	assert.Equal(t, hash2000, hash.String())

	height, headHash, err := s.Head()
	require.NoError(t, err)
	assert.EqualValues(t, 2000, height)
	assert.Equal(t, hash, headHash)

	// spot-check across segment boundaries
	for _, h := range []uint64{0, 799, 800, 1599, 1600} {
		got, err := s.GetByHeight(h)
		require.NoError(t, err)
		assert.Equal(t, headers[h], got, "height %d", h)
	}

	_, err = s.GetByHeight(2001)
	assert.ErrorIs(t, err, ErrHeightNotFound)
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithSegmentCapacity(8))
	require.NoError(t, err)

	suite := headertest.NewTestSuite(t)
	headers := suite.GenHeaders(21)
	_, err = s.Append(ctx, headers...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// capacity comes from the manifest now, not from options
	s, err = Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.EqualValues(t, 8, s.manifest.SegmentCapacity)

	tip, ok := s.TipHeight()
	require.True(t, ok)
	assert.EqualValues(t, 20, tip)

	for i, want := range headers {
		got, err := s.GetByHeight(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "height %d", i)
	}

	// appends continue from the recovered tip
	next, err := s.Append(ctx, suite.NextHeader())
	require.NoError(t, err)
	assert.EqualValues(t, 21, next)
}

func TestStoreCrashRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithSegmentCapacity(100))
	require.NoError(t, err)

	suite := headertest.NewTestSuite(t)
	_, err = s.Append(ctx, suite.GenHeaders(5)...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// simulate a crash after the record write but before the index advance:
	// the next header reaches the segment file, its commit never happens
	trailing := suite.NextHeader()
	rec := trailing.Marshal()
	f, err := os.OpenFile(filepath.Join(dir, "headers", segmentName(0)), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(rec[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// on restart the on-disk counts are ground truth: the trailing record
	// is committed, deterministically
	s, err = Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tip, ok := s.TipHeight()
	require.True(t, ok)
	assert.EqualValues(t, 5, tip)

	got, err := s.GetByHeight(5)
	require.NoError(t, err)
	assert.Equal(t, trailing, got)
}

func TestStoreCorruptSegmentAtOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)

	suite := headertest.NewTestSuite(t)
	_, err = s.Append(ctx, suite.GenHeaders(3)...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// a torn write leaves leftover bytes; detection happens at open,
	// not at first read
	path := filepath.Join(dir, "headers", segmentName(0))
	require.NoError(t, os.Truncate(path, 2*header.Size+13))

	_, err = Open(ctx, dir)
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

func TestStoreLocked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = Open(ctx, dir)
	assert.ErrorIs(t, err, ErrOpened)
}

func TestStoreManifestMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	m := newManifest(DefaultSegmentCapacity)
	m.RecordSize = 64
	require.NoError(t, saveManifest(manifestPath(dir), m))

	_, err = Open(ctx, dir)
	assert.ErrorIs(t, err, ErrManifestMismatch)
}

func TestStoreHashIndex(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	s, err := Open(ctx, t.TempDir(), WithHashIndex(ds))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	suite := headertest.NewTestSuite(t)
	headers := suite.GenHeaders(10)
	_, err = s.Append(ctx, headers...)
	require.NoError(t, err)

	for i, h := range headers {
		height, err := s.HeightByHash(ctx, h.Hash())
		require.NoError(t, err)
		assert.EqualValues(t, i, height)

		got, err := s.GetByHash(ctx, h.Hash())
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}

	_, err = s.HeightByHash(ctx, header.DoubleHashRaw([]byte("unknown")))
	assert.ErrorIs(t, err, ErrHashNotFound)
}

func TestStoreHashIndexReconcile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	s, err := Open(ctx, dir, WithHashIndex(ds))
	require.NoError(t, err)

	suite := headertest.NewTestSuite(t)
	_, err = s.Append(ctx, suite.GenHeaders(4)...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// trailing record on disk, never indexed
	trailing := suite.NextHeader()
	rec := trailing.Marshal()
	f, err := os.OpenFile(filepath.Join(dir, "headers", segmentName(0)), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(rec[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(ctx, dir, WithHashIndex(ds))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	height, err := s.HeightByHash(ctx, trailing.Hash())
	require.NoError(t, err)
	assert.EqualValues(t, 4, height)
}

func TestStoreNoHashIndex(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.HeightByHash(ctx, header.ZeroHash)
	assert.ErrorIs(t, err, ErrNoHashIndex)
}

func TestStoreConcurrentReads(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir(), WithSegmentCapacity(64))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	suite := headertest.NewTestSuite(t)
	headers := suite.GenHeaders(500)
	_, err = s.Append(ctx, headers[:200]...)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tip, ok := s.TipHeight()
				if !ok {
					continue
				}
				h := tip * uint64(i) % (tip + 1)
				got, err := s.GetByHeight(h)
				assert.NoError(t, err)
				assert.Equal(t, headers[h], got)
			}
		}()
	}

	// keep appending while readers run
	for i := 200; i < 500; i += 50 {
		_, err := s.Append(ctx, headers[i:i+50]...)
		require.NoError(t, err)
	}
	wg.Wait()
}
