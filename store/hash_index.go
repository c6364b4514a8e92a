package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsbadger "github.com/ipfs/go-ds-badger4"

	"github.com/dashpay/dash-spv/header"
)

// ErrHashNotFound is thrown on lookups of hashes the index has never seen.
var ErrHashNotFound = errors.New("store: hash not found")

var indexPrefix = datastore.NewKey("spv/hashidx")

// hashIndexer stores mappings between header Hash and Height. It is the
// optional inverse of the store's height-indexed core: segments already give
// height to header, this gives hash to height.
type hashIndexer struct {
	ds datastore.Batching
}

func newHashIndexer(ds datastore.Batching) *hashIndexer {
	return &hashIndexer{ds: namespace.Wrap(ds, indexPrefix)}
}

func hashKey(h header.Hash) datastore.Key {
	return datastore.NewKey(h.String())
}

// HeightByHash loads the height recorded for the given hash.
func (hi *hashIndexer) HeightByHash(ctx context.Context, h header.Hash) (uint64, error) {
	val, err := hi.ds.Get(ctx, hashKey(h))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrHashNotFound, h)
		}
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("store: hash index entry for %s has %d bytes", h, len(val))
	}

	return binary.BigEndian.Uint64(val), nil
}

// IndexTo saves hash to height mappings for a run of headers committed at
// heights from..from+len-1, in one batch.
func (hi *hashIndexer) IndexTo(ctx context.Context, from uint64, headers ...*header.Header) error {
	batch, err := hi.ds.Batch(ctx)
	if err != nil {
		return err
	}

	for i, h := range headers {
		var val [8]byte
		binary.BigEndian.PutUint64(val[:], from+uint64(i))
		if err := batch.Put(ctx, hashKey(h.Hash()), val[:]); err != nil {
			return err
		}
	}

	return batch.Commit(ctx)
}

// OpenHashIndex opens a persistent badger-backed datastore under the given
// path, suitable for the WithHashIndex option. The caller owns the returned
// datastore and closes it after the store.
func OpenHashIndex(path string) (datastore.Batching, error) {
	opts := dsbadger.DefaultOptions // this should be copied
	return dsbadger.NewDatastore(path, &opts)
}
