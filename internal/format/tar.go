// internal/format/tar.go
package format

import (
	"archive/tar"
	"bytes"
	"io"

	"github.com/megfs/meg/internal/core"
)

const tarMagicOffset = 257

var tarMagic = []byte("ustar")

// Tar decodes POSIX and GNU tar archives.
type Tar struct{}

// NewTar returns the tar archive format.
func NewTar() *Tar { return &Tar{} }

func (t *Tar) Name() string { return "tar" }

func (t *Tar) Extensions() []string { return []string{".tar"} }

func (t *Tar) ContentTypes() []string { return []string{"application/x-tar"} }

func (t *Tar) Magic() []byte { return tarMagic }

// MatchesMagic checks the ustar magic at its fixed header offset.
func (t *Tar) MatchesMagic(data []byte) bool {
	end := tarMagicOffset + len(tarMagic)
	if len(data) < end {
		return false
	}
	return bytes.Equal(data[tarMagicOffset:end], tarMagic)
}

// Decode walks the tar stream and materializes every entry.
func (t *Tar) Decode(data []byte) (*Archive, error) {
	tr := tar.NewReader(bytes.NewReader(data))

	var entries []*Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrDecode, err)
		}

		entry := &Entry{
			Path: normalizeEntryPath(hdr.Name),
			Size: hdr.Size,
			Kind: tarEntryKind(hdr.Typeflag),
			Mode: uint32(hdr.Mode),
			Metadata: Metadata{
				Compression: CompressionNone,
			},
		}
		if !hdr.ModTime.IsZero() {
			mod := hdr.ModTime
			entry.Modified = &mod
		}
		if !hdr.AccessTime.IsZero() {
			at := hdr.AccessTime
			entry.Accessed = &at
		}
		if !hdr.ChangeTime.IsZero() {
			ct := hdr.ChangeTime
			entry.Created = &ct
		}

		switch entry.Kind {
		case KindFile:
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, core.WrapError(core.ErrDecode, err)
			}
			entry.Data = body
			size := int64(len(body))
			entry.Metadata.UncompressedSize = &size
		case KindSymlink, KindHardlink:
			entry.Link = hdr.Linkname
			entry.LinkEncoding = "utf-8"
			entry.Data = []byte(hdr.Linkname)
		case KindDir:
			entry.Size = 0
		}

		entries = append(entries, entry)
	}

	// A stream with no entries is still a valid archive.
	return NewArchive(t, entries), nil
}

func tarEntryKind(flag byte) EntryKind {
	switch flag {
	case tar.TypeDir:
		return KindDir
	case tar.TypeSymlink:
		return KindSymlink
	case tar.TypeLink:
		return KindHardlink
	case tar.TypeFifo:
		return KindFifo
	case tar.TypeChar:
		return KindCharDevice
	case tar.TypeBlock:
		return KindBlockDevice
	default:
		return KindFile
	}
}

// normalizeEntryPath strips leading "./" and "/" and trailing "/" so entry
// paths are relative with no leading slash.
func normalizeEntryPath(p string) string {
	for len(p) > 2 && p[:2] == "./" {
		p = p[2:]
	}
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
