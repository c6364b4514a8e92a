package store

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrHeightGap is thrown when an index advance would skip a height.
// Heights are strictly sequential from genesis; a gap means the caller is
// about to bind header content to the wrong height.
var ErrHeightGap = errors.New("store: height gap")

// segmentIndex maps heights onto (segment id, in-segment offset) pairs and
// tracks the committed tip. Location arithmetic is pure; the tip is the one
// piece of shared mutable state and is published atomically so readers
// observe either the old or the new tip, never a half-advanced one.
type segmentIndex struct {
	capacity uint32

	// tip+1, so the zero value means an empty chain
	tip atomic.Uint64
}

func newSegmentIndex(capacity uint32) *segmentIndex {
	return &segmentIndex{capacity: capacity}
}

// locate resolves a height to its segment id and in-segment offset.
func (i *segmentIndex) locate(height uint64) (segmentID, offset uint32) {
	return uint32(height / uint64(i.capacity)), uint32(height % uint64(i.capacity))
}

// tipHeight reports the committed tip height, or false when the chain is empty.
func (i *segmentIndex) tipHeight() (uint64, bool) {
	tip := i.tip.Load()
	if tip == 0 {
		return 0, false
	}
	return tip - 1, true
}

// nextHeight reports the height the next appended header must take.
func (i *segmentIndex) nextHeight() uint64 {
	return i.tip.Load()
}

// advance commits the given height as the new tip. Only the single next
// height is accepted: height tip+1, or 0 for genesis on an empty chain.
// Callers must hold the write lock; the atomic store below is what makes the
// new tip visible to lock-free readers.
func (i *segmentIndex) advance(height uint64) error {
	if next := i.tip.Load(); height != next {
		return fmt.Errorf("%w: advancing to %d, next is %d", ErrHeightGap, height, next)
	}

	i.tip.Store(height + 1)
	return nil
}

// reset rewinds the index to the given chain length. Used only by startup
// recovery, where on-disk record counts are ground truth.
func (i *segmentIndex) reset(length uint64) {
	i.tip.Store(length)
}
