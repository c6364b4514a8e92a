package headertest

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/dashpay/dash-spv/header"
)

// TestSuite provides everything you need to test a chain of Headers.
// If not, please don't hesitate to extend it for your case.
//
// Generated chains are fully deterministic: the header at a given height is
// always byte-identical across runs, so expected hashes can be precomputed
// outside the test binary.
type TestSuite struct {
	t *testing.T

	head   *header.Header
	height uint64
}

// NewTestSuite setups a new test suite starting at genesis.
func NewTestSuite(t *testing.T) *TestSuite {
	return &TestSuite{t: t}
}

// Head returns the last generated header, or nil when nothing was generated.
func (s *TestSuite) Head() *header.Header {
	return s.head
}

// Height reports the height of the last generated header.
func (s *TestSuite) Height() uint64 {
	if s.head == nil {
		return 0
	}
	return s.height
}

// NextHeader generates the next header in the chain.
func (s *TestSuite) NextHeader() *header.Header {
	if s.head == nil {
		s.head = DeterministicHeader(0, header.ZeroHash)
		s.height = 0
		return s.head
	}

	s.height++
	s.head = DeterministicHeader(s.height, s.head.Hash())
	return s.head
}

// GenHeaders generates the next n headers in the chain.
func (s *TestSuite) GenHeaders(n int) []*header.Header {
	headers := make([]*header.Header, n)
	for i := range headers {
		headers[i] = s.NextHeader()
	}
	return headers
}

// DeterministicHeader builds the canonical test header for a height:
// version 2, merkle root SHA-256 of the LE-encoded height, timestamp
// spaced 150s from a fixed epoch, nonce equal to the height.
func DeterministicHeader(height uint64, prev header.Hash) *header.Header {
	var enc [8]byte
	binary.LittleEndian.PutUint64(enc[:], height)

	return &header.Header{
		Version:    2,
		PrevBlock:  prev,
		MerkleRoot: sha256.Sum256(enc[:]),
		Timestamp:  1417713337 + uint32(height)*150,
		Bits:       0x1e0ffff0,
		Nonce:      uint32(height),
	}
}
