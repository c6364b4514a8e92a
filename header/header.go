package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Size is the exact length of a serialized Header. The layout is fixed by
// the network protocol and must never drift from it, as peers and external
// tooling hash the same 80 bytes.
const Size = 80

// ErrMalformedHeader is thrown when decoding a record of the wrong length.
var ErrMalformedHeader = errors.New("header: malformed header")

// Header is a block header as it appears on the wire: 80 bytes of
// fixed-width little-endian fields. The store treats it as an opaque record;
// field access exists for callers that inspect decoded headers.
type Header struct {
	Version    int32
	PrevBlock  Hash
	MerkleRoot Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Marshal serializes the header into its canonical wire form.
func (h *Header) Marshal() [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Version))
	copy(b[4:36], h.PrevBlock[:])
	copy(b[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(b[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(b[72:76], h.Bits)
	binary.LittleEndian.PutUint32(b[76:80], h.Nonce)
	return b
}

// Unmarshal deserializes a wire-form record into the header.
func (h *Header) Unmarshal(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedHeader, len(b), Size)
	}

	h.Version = int32(binary.LittleEndian.Uint32(b[0:4]))
	copy(h.PrevBlock[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(b[68:72])
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])
	return nil
}

// Hash computes the double-SHA256 identifier of the header.
// It is recomputed from the wire bytes on every call, never cached, so the
// result always reflects what a peer would derive from the same record.
func (h *Header) Hash() Hash {
	b := h.Marshal()
	return DoubleHashRaw(b[:])
}

// Time returns the header timestamp as a time.Time.
func (h *Header) Time() time.Time {
	return time.Unix(int64(h.Timestamp), 0).UTC()
}
