// internal/format/archive.go
package format

import (
	"path"
	"time"
)

// EntryKind classifies an archive entry.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
	KindHardlink
	KindFifo
	KindCharDevice
	KindBlockDevice
	KindSocket
)

// String returns the string representation of the kind.
func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symbolic-link"
	case KindHardlink:
		return "hard-link"
	case KindFifo:
		return "fifo"
	case KindCharDevice:
		return "character-device"
	case KindBlockDevice:
		return "block-device"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// CompressionKind tags the compression applied to an entry body or stream.
// The set is open: user formats may declare their own tag.
type CompressionKind string

const (
	CompressionNone     CompressionKind = "none"
	CompressionGzip     CompressionKind = "gzip"
	CompressionBzip2    CompressionKind = "bzip2"
	CompressionXz       CompressionKind = "xz"
	CompressionZstd     CompressionKind = "zstd"
	CompressionLzma     CompressionKind = "lzma"
	CompressionLz4      CompressionKind = "lz4"
	CompressionSnappy   CompressionKind = "snappy"
	CompressionLzip     CompressionKind = "lzip"
	CompressionLzop     CompressionKind = "lzop"
	CompressionCompress CompressionKind = "compress"
	CompressionDeflate  CompressionKind = "deflate"
	CompressionBrotli   CompressionKind = "brotli"
)

// Metadata carries per-entry compression details.
type Metadata struct {
	Compression      CompressionKind
	UncompressedSize *int64
	// CRC is a lowercase hex string, zero-padded to 8 characters when
	// derived from CRC-32.
	CRC string
}

// SeekableMetadata locates an entry's compressed region within the archive.
// The closed byte range is [Offset, Offset+Length-1].
type SeekableMetadata struct {
	Metadata
	Offset int64
	Length int64
}

// Entry is a single decoded member of an archive. Entries are immutable
// once produced by a format decoder.
type Entry struct {
	Path     string
	Size     int64
	Kind     EntryKind
	Mode     uint32
	Modified *time.Time
	Accessed *time.Time
	Created  *time.Time
	Data     []byte
	// Link is the target path for symlink and hardlink entries. When
	// empty, Data holds the target encoded as LinkEncoding.
	Link         string
	LinkEncoding string
	Metadata     Metadata
}

// Name returns the base name of the entry path.
func (e *Entry) Name() string {
	return path.Base(e.Path)
}

// LinkTarget returns the link target, falling back to the entry data
// decoded as UTF-8 with trailing whitespace trimmed.
func (e *Entry) LinkTarget() string {
	if e.Link != "" {
		return e.Link
	}
	target := string(e.Data)
	for len(target) > 0 {
		c := target[len(target)-1]
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != 0 {
			break
		}
		target = target[:len(target)-1]
	}
	return target
}

// Archive is an ordered collection of entries decoded from a container
// format. Paths are unique per archive.
type Archive struct {
	Name    string
	Format  ArchiveFormat
	Comment string
	Entries []*Entry

	byPath map[string]*Entry
}

// NewArchive builds an archive over the given entries and indexes them
// by path.
func NewArchive(format ArchiveFormat, entries []*Entry) *Archive {
	a := &Archive{
		Format:  format,
		Entries: entries,
		byPath:  make(map[string]*Entry, len(entries)),
	}
	for _, e := range entries {
		a.byPath[e.Path] = e
	}
	return a
}

// Entry returns the entry at path, if present.
func (a *Archive) Entry(p string) (*Entry, bool) {
	e, ok := a.byPath[p]
	return e, ok
}

// Index maps entry paths to their byte regions inside a seekable archive.
// Iteration order is the order produced by the index decoder.
type Index struct {
	Comment string

	paths []string
	meta  map[string]SeekableMetadata
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{meta: make(map[string]SeekableMetadata)}
}

// Add records metadata for a path, keeping insertion order. Re-adding a
// path overwrites the metadata without duplicating the path.
func (x *Index) Add(p string, m SeekableMetadata) {
	if _, ok := x.meta[p]; !ok {
		x.paths = append(x.paths, p)
	}
	x.meta[p] = m
}

// Get returns the metadata for a path.
func (x *Index) Get(p string) (SeekableMetadata, bool) {
	m, ok := x.meta[p]
	return m, ok
}

// Paths returns the paths in insertion order.
func (x *Index) Paths() []string {
	return x.paths
}

// Len returns the number of indexed paths.
func (x *Index) Len() int {
	return len(x.paths)
}
