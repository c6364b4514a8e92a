package store

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/dashpay/dash-spv/header"
)

// manifestVersion is the current on-disk format revision.
const manifestVersion = 1

// ErrManifestMismatch is thrown when an existing store's manifest disagrees
// with the layout this code understands.
var ErrManifestMismatch = errors.New("store: manifest mismatch")

// Manifest is the versioned on-disk format descriptor saved next to the
// segment files. It exists so external tools read the layout instead of
// guessing it: record size, records per segment, format revision.
type Manifest struct {
	Version         int    `toml:"version"`
	RecordSize      uint32 `toml:"record_size"`
	SegmentCapacity uint32 `toml:"segment_capacity"`
}

func newManifest(segmentCapacity uint32) *Manifest {
	return &Manifest{
		Version:         manifestVersion,
		RecordSize:      header.Size,
		SegmentCapacity: segmentCapacity,
	}
}

func (m *Manifest) validate() error {
	if m.Version != manifestVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrManifestMismatch, m.Version, manifestVersion)
	}
	if m.RecordSize != header.Size {
		return fmt.Errorf("%w: record size %d, want %d", ErrManifestMismatch, m.RecordSize, header.Size)
	}
	if m.SegmentCapacity == 0 {
		return fmt.Errorf("%w: zero segment capacity", ErrManifestMismatch)
	}
	return nil
}

// Encode encodes the Manifest into a given writer w.
func (m *Manifest) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(m)
}

// Decode decodes a Manifest from a given reader r.
func (m *Manifest) Decode(r io.Reader) error {
	_, err := toml.NewDecoder(r).Decode(m)
	return err
}

// saveManifest saves the Manifest under the given 'path'.
func saveManifest(path string, m *Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return m.Encode(f)
}

// loadManifest loads a Manifest from the given 'path'.
func loadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	return &m, m.Decode(f)
}
