package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLocate(t *testing.T) {
	idx := newSegmentIndex(2000)

	tests := []struct {
		height  uint64
		segment uint32
		offset  uint32
	}{
		{height: 0, segment: 0, offset: 0},
		{height: 1999, segment: 0, offset: 1999},
		{height: 2000, segment: 1, offset: 0},
		{height: 5003, segment: 2, offset: 1003},
	}
	for _, tt := range tests {
		segment, offset := idx.locate(tt.height)
		assert.Equal(t, tt.segment, segment, "height %d", tt.height)
		assert.Equal(t, tt.offset, offset, "height %d", tt.height)
	}
}

func TestIndexAdvance(t *testing.T) {
	idx := newSegmentIndex(2000)

	_, ok := idx.tipHeight()
	require.False(t, ok)

	// genesis must come first
	assert.ErrorIs(t, idx.advance(1), ErrHeightGap)

	require.NoError(t, idx.advance(0))
	tip, ok := idx.tipHeight()
	require.True(t, ok)
	assert.EqualValues(t, 0, tip)

	// skipping a height is refused and leaves the tip unchanged
	assert.ErrorIs(t, idx.advance(2), ErrHeightGap)
	assert.ErrorIs(t, idx.advance(0), ErrHeightGap)
	tip, _ = idx.tipHeight()
	assert.EqualValues(t, 0, tip)

	require.NoError(t, idx.advance(1))
	tip, _ = idx.tipHeight()
	assert.EqualValues(t, 1, tip)
}
