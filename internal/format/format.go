// internal/format/format.go
package format

import (
	"github.com/megfs/meg/internal/core"
)

// Format identifies an archive or compression format by extension,
// content type, and optional magic-byte prefix.
type Format interface {
	Name() string
	Extensions() []string
	ContentTypes() []string
	// Magic returns the byte prefix identifying the format, or nil when
	// the format has no magic.
	Magic() []byte
}

// MagicMatcher is implemented by formats whose signature is not a plain
// prefix at offset zero (tar keeps its magic at offset 257).
type MagicMatcher interface {
	MatchesMagic(data []byte) bool
}

// CompressionFormat decodes a compressed byte stream.
type CompressionFormat interface {
	Format
	Kind() CompressionKind
	Decompress(data []byte) ([]byte, error)
}

// ArchiveFormat decodes raw bytes into an Archive.
type ArchiveFormat interface {
	Format
	Decode(data []byte) (*Archive, error)
}

// SeekableArchiveFormat is an ArchiveFormat whose central index can be
// decoded from a byte range, allowing per-entry access without the whole
// archive.
type SeekableArchiveFormat interface {
	ArchiveFormat
	// IndexHintRanges returns byte ranges likely to contain the central
	// index, ordered by preference.
	IndexHintRanges(totalLen int64) []core.ByteRange
	// DecodeIndex parses the central index out of data, which covers the
	// tail of an archive of totalLen bytes.
	DecodeIndex(data []byte, totalLen int64) (*Index, error)
	// DecodeEntry decodes a single entry from the byte region described
	// by meta. data is the region [meta.Offset, meta.Offset+meta.Length-1].
	DecodeEntry(data []byte, path string, meta SeekableMetadata) (*Entry, error)
}

// Seekable probes an ArchiveFormat for byte-range index support.
func Seekable(f ArchiveFormat) (SeekableArchiveFormat, bool) {
	s, ok := f.(SeekableArchiveFormat)
	return s, ok
}

// matchesMagic reports whether data begins with the format's magic,
// deferring to MagicMatcher implementations.
func matchesMagic(f Format, data []byte) bool {
	if m, ok := f.(MagicMatcher); ok {
		return m.MatchesMagic(data)
	}
	magic := f.Magic()
	if len(magic) == 0 || len(data) < len(magic) {
		return false
	}
	for i := range magic {
		if data[i] != magic[i] {
			return false
		}
	}
	return true
}
