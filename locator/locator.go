// Package locator builds block locators: the sparse, exponentially spaced
// lists of block hashes a light client sends to peers to describe how far
// its chain reaches. Peers scan the list newest-first for the first hash
// they recognize and serve headers from there, so sync resumes cheaply no
// matter how far behind the requester is.
package locator

import (
	"fmt"

	"github.com/dashpay/dash-spv/header"
)

// HashSource serves committed block hashes by height. *store.Store satisfies it.
type HashSource interface {
	// TipHeight reports the highest committed height, or false when empty.
	TipHeight() (uint64, bool)
	// HashByHeight returns the block hash committed at the given height.
	HashByHeight(height uint64) (header.Hash, error)
}

// Build constructs the locator for the current tip of src: the tip hash,
// the next four heights back one by one, then heights spaced by a doubling
// step, down to and always including genesis exactly once.
//
// Heights never exceed the tip and never go below zero, and every hash is
// read back through the same height-indexed path peers will be served from,
// so a locator entry can never disagree with the stored chain.
func Build(src HashSource) ([]header.Hash, error) {
	tip, ok := src.TipHeight()
	if !ok {
		return nil, nil
	}

	locator := make([]header.Hash, 0, locatorLen(tip))
	height, step := tip, uint64(1)
	for {
		hash, err := src.HashByHeight(height)
		if err != nil {
			return nil, fmt.Errorf("locator: hash at height %d: %w", height, err)
		}
		locator = append(locator, hash)

		if height == 0 {
			return locator, nil
		}
		if len(locator) > 4 {
			step *= 2
		}
		if height > step {
			height -= step
		} else {
			height = 0
		}
	}
}

// locatorLen sizes the locator for a tip: five unit steps, then doubling
// steps to genesis.
func locatorLen(tip uint64) int {
	n, remaining := 1, tip
	step := uint64(1)
	for remaining > 0 {
		if remaining > step {
			remaining -= step
		} else {
			remaining = 0
		}
		n++
		if n > 4 {
			step *= 2
		}
	}
	return n
}
