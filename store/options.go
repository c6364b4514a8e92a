package store

import (
	"fmt"

	"github.com/ipfs/go-datastore"
)

// DefaultSegmentCapacity is the number of header records per segment file.
// At 80 bytes a record, a full segment is 4MB and covers roughly 3 months of
// 150-second blocks.
const DefaultSegmentCapacity = 50_000

// Option is the functional option that is applied to the store instance
// to configure store parameters.
type Option func(*Parameters)

// Parameters is the set of parameters that must be configured for the store.
type Parameters struct {
	// SegmentCapacity defines how many records one segment file holds.
	// Only consulted when creating a fresh store; an existing store's
	// capacity comes from its manifest.
	SegmentCapacity uint32

	// CacheSize defines the maximum amount of decoded headers kept in memory.
	CacheSize int

	// HashIndex optionally backs a hash to height index, enabling lookups by
	// block hash. The store never requires it; the height-indexed core is
	// self-sufficient.
	HashIndex datastore.Batching
}

// DefaultParameters returns the default params to configure the store.
func DefaultParameters() Parameters {
	return Parameters{
		SegmentCapacity: DefaultSegmentCapacity,
		CacheSize:       4096,
	}
}

func (p *Parameters) Validate() error {
	if p.SegmentCapacity == 0 {
		return fmt.Errorf("store: invalid segment capacity: value should be positive and non-zero")
	}
	if p.CacheSize <= 0 {
		return fmt.Errorf("store: invalid cache size: value should be positive and non-zero")
	}
	return nil
}

// WithSegmentCapacity is a functional option that configures the
// `SegmentCapacity` parameter.
func WithSegmentCapacity(capacity uint32) Option {
	return func(p *Parameters) {
		p.SegmentCapacity = capacity
	}
}

// WithCacheSize is a functional option that configures the
// `CacheSize` parameter.
func WithCacheSize(size int) Option {
	return func(p *Parameters) {
		p.CacheSize = size
	}
}

// WithHashIndex is a functional option that attaches a hash to height index
// kept in the given datastore.
func WithHashIndex(ds datastore.Batching) Option {
	return func(p *Parameters) {
		p.HashIndex = ds
	}
}
