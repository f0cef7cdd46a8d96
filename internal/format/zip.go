// internal/format/zip.go
package format

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"sort"

	"github.com/klauspost/compress/flate"

	"github.com/megfs/meg/internal/core"
)

// Zip structure signatures and fixed record sizes.
const (
	zipLocalHeaderSignature   = 0x04034b50
	zipCentralHeaderSignature = 0x02014b50
	zipEndOfDirSignature      = 0x06054b50
	zip64EndOfDirSignature    = 0x06064b50
	zip64LocatorSignature     = 0x07064b50

	zipLocalHeaderLen   = 30
	zipCentralHeaderLen = 46
	zipEndOfDirLen      = 22
	zip64EndOfDirLen    = 56
	zip64LocatorLen     = 20

	zipMethodStore   = 0
	zipMethodDeflate = 8
)

// Index hint sizes. The end-of-directory record must sit within the last
// 64 KiB + 22 bytes of any valid zip; the wider fallback covers archives
// with very large central directories.
const (
	zipIndexHintSmall = 64 << 10
	zipIndexHintLarge = 16 << 20
)

var zipMagic = []byte{'P', 'K'}

// Zip decodes zip archives. It is seekable: the central directory at the
// archive tail maps paths to entry byte regions.
type Zip struct{}

// NewZip returns the zip archive format.
func NewZip() *Zip { return &Zip{} }

func (z *Zip) Name() string { return "zip" }

func (z *Zip) Extensions() []string { return []string{".zip"} }

func (z *Zip) ContentTypes() []string {
	return []string{"application/zip", "application/x-zip-compressed"}
}

func (z *Zip) Magic() []byte { return zipMagic }

// Decode reads the whole archive through archive/zip.
func (z *Zip) Decode(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, core.WrapError(core.ErrDecode, err)
	}

	entries := make([]*Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entry := &Entry{
			Path: normalizeEntryPath(f.Name),
			Mode: uint32(f.Mode() & fs.ModePerm),
			Metadata: Metadata{
				Compression: zipCompressionKind(f.Method),
				CRC:         fmt.Sprintf("%08x", f.CRC32),
			},
		}
		if !f.Modified.IsZero() {
			mod := f.Modified
			entry.Modified = &mod
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			entry.Kind = KindDir
		case mode&fs.ModeSymlink != 0:
			entry.Kind = KindSymlink
		default:
			entry.Kind = KindFile
		}

		if entry.Kind != KindDir {
			rc, err := f.Open()
			if err != nil {
				return nil, core.WrapError(core.ErrDecode, err)
			}
			body, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, core.WrapError(core.ErrDecode, err)
			}
			entry.Data = body
			entry.Size = int64(len(body))
			size := entry.Size
			entry.Metadata.UncompressedSize = &size
			if entry.Kind == KindSymlink {
				entry.Link = entry.LinkTarget()
				entry.LinkEncoding = "utf-8"
			}
		}

		entries = append(entries, entry)
	}

	archive := NewArchive(z, entries)
	archive.Comment = zr.Comment
	return archive, nil
}

// IndexHintRanges returns tail ranges likely to contain the central
// directory, narrowest first.
func (z *Zip) IndexHintRanges(totalLen int64) []core.ByteRange {
	small := core.TailRange(totalLen, zipIndexHintSmall)
	large := core.TailRange(totalLen, zipIndexHintLarge)
	if small == large {
		return []core.ByteRange{small}
	}
	return []core.ByteRange{small, large}
}

// DecodeIndex parses the end-of-directory record and central directory
// out of the archive tail. data covers [totalLen-len(data), totalLen-1].
func (z *Zip) DecodeIndex(data []byte, totalLen int64) (*Index, error) {
	base := totalLen - int64(len(data))

	eocdPos, err := findEndOfDirectory(data)
	if err != nil {
		return nil, err
	}

	records := int64(binary.LittleEndian.Uint16(data[eocdPos+10:]))
	dirSize := int64(binary.LittleEndian.Uint32(data[eocdPos+12:]))
	dirOffset := int64(binary.LittleEndian.Uint32(data[eocdPos+16:]))
	commentLen := int(binary.LittleEndian.Uint16(data[eocdPos+20:]))
	comment := string(data[eocdPos+zipEndOfDirLen : eocdPos+zipEndOfDirLen+int64(commentLen)])

	// Zip64: maxed-out fields redirect to the zip64 end-of-directory
	// record, located by the 20-byte locator preceding the EOCD.
	if records == 0xffff || dirSize == 0xffffffff || dirOffset == 0xffffffff {
		locPos := eocdPos - zip64LocatorLen
		if locPos < 0 || binary.LittleEndian.Uint32(data[locPos:]) != zip64LocatorSignature {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("zip64 locator missing"))
		}
		zip64Abs := int64(binary.LittleEndian.Uint64(data[locPos+8:]))
		zip64Pos := zip64Abs - base
		if zip64Pos < 0 || zip64Pos+zip64EndOfDirLen > int64(len(data)) {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("zip64 end of directory outside index region"))
		}
		if binary.LittleEndian.Uint32(data[zip64Pos:]) != zip64EndOfDirSignature {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("bad zip64 end of directory signature"))
		}
		records = int64(binary.LittleEndian.Uint64(data[zip64Pos+32:]))
		dirSize = int64(binary.LittleEndian.Uint64(data[zip64Pos+40:]))
		dirOffset = int64(binary.LittleEndian.Uint64(data[zip64Pos+48:]))
	}

	dirStart := dirOffset - base
	if dirStart < 0 {
		return nil, core.WrapError(core.ErrDecode,
			fmt.Errorf("central directory starts before index region (need %d more bytes)", -dirStart))
	}
	if dirStart+dirSize > int64(len(data)) {
		return nil, core.WrapError(core.ErrDecode, fmt.Errorf("central directory truncated"))
	}

	type rawRecord struct {
		path string
		meta SeekableMetadata
	}

	raw := make([]rawRecord, 0, records)
	pos := dirStart
	for i := int64(0); i < records; i++ {
		if pos+zipCentralHeaderLen > int64(len(data)) {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("central directory record %d truncated", i))
		}
		hdr := data[pos:]
		if binary.LittleEndian.Uint32(hdr) != zipCentralHeaderSignature {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("bad central directory signature at record %d", i))
		}

		method := binary.LittleEndian.Uint16(hdr[10:])
		crc := binary.LittleEndian.Uint32(hdr[16:])
		compressed := int64(binary.LittleEndian.Uint32(hdr[20:]))
		uncompressed := int64(binary.LittleEndian.Uint32(hdr[24:]))
		nameLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
		extraLen := int64(binary.LittleEndian.Uint16(hdr[30:]))
		fileCommentLen := int64(binary.LittleEndian.Uint16(hdr[32:]))
		localOffset := int64(binary.LittleEndian.Uint32(hdr[42:]))

		if pos+zipCentralHeaderLen+nameLen > int64(len(data)) {
			return nil, core.WrapError(core.ErrDecode, fmt.Errorf("central directory name truncated at record %d", i))
		}
		name := string(data[pos+zipCentralHeaderLen : pos+zipCentralHeaderLen+nameLen])

		// Zip64 extra field overrides maxed 32-bit values.
		extraStart := pos + zipCentralHeaderLen + nameLen
		extra := data[extraStart : extraStart+extraLen]
		uncompressed, localOffset = applyZip64Extra(extra, uncompressed, compressed, localOffset)

		meta := SeekableMetadata{
			Metadata: Metadata{
				Compression:      zipCompressionKind(method),
				UncompressedSize: &uncompressed,
				CRC:              fmt.Sprintf("%08x", crc),
			},
			Offset: localOffset,
		}
		raw = append(raw, rawRecord{path: normalizeEntryPath(name), meta: meta})
		pos += zipCentralHeaderLen + nameLen + extraLen + fileCommentLen
	}

	// The central directory does not record the local extra-field length,
	// so each entry's region runs from its local header to the next
	// region start (the central directory for the last entry).
	order := make([]int, len(raw))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return raw[order[a]].meta.Offset < raw[order[b]].meta.Offset
	})
	for i, idx := range order {
		end := dirOffset
		if i+1 < len(order) {
			end = raw[order[i+1]].meta.Offset
		}
		raw[idx].meta.Length = end - raw[idx].meta.Offset
	}

	index := NewIndex()
	index.Comment = comment
	for _, r := range raw {
		index.Add(r.path, r.meta)
	}
	return index, nil
}

// DecodeEntry decodes one entry from its byte region. data starts at the
// entry's local file header.
func (z *Zip) DecodeEntry(data []byte, path string, meta SeekableMetadata) (*Entry, error) {
	if len(data) < zipLocalHeaderLen {
		return nil, core.WrapError(core.ErrDecode, fmt.Errorf("entry region shorter than local header"))
	}
	if binary.LittleEndian.Uint32(data) != zipLocalHeaderSignature {
		return nil, core.WrapError(core.ErrDecode, fmt.Errorf("bad local header signature for %s", path))
	}

	nameLen := int(binary.LittleEndian.Uint16(data[26:]))
	extraLen := int(binary.LittleEndian.Uint16(data[28:]))
	bodyStart := zipLocalHeaderLen + nameLen + extraLen
	if bodyStart > len(data) {
		return nil, core.WrapError(core.ErrDecode, fmt.Errorf("local header overruns entry region for %s", path))
	}
	body := data[bodyStart:]

	var out []byte
	switch meta.Compression {
	case CompressionDeflate:
		fr := flate.NewReader(bytes.NewReader(body))
		decoded, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return nil, core.WrapError(core.ErrDecode, err)
		}
		out = decoded
	case CompressionNone, "":
		size := int64(len(body))
		if meta.UncompressedSize != nil && *meta.UncompressedSize < size {
			size = *meta.UncompressedSize
		}
		out = append([]byte(nil), body[:size]...)
	default:
		return nil, core.WrapError(core.ErrDecode,
			fmt.Errorf("unsupported entry compression %q for %s", meta.Compression, path))
	}

	if meta.CRC != "" {
		sum := fmt.Sprintf("%08x", crc32.ChecksumIEEE(out))
		if sum != meta.CRC {
			return nil, core.WrapError(core.ErrDecode,
				fmt.Errorf("crc mismatch for %s: got %s, index says %s", path, sum, meta.CRC))
		}
	}

	size := int64(len(out))
	return &Entry{
		Path: path,
		Size: size,
		Kind: KindFile,
		Data: out,
		Metadata: Metadata{
			Compression:      meta.Compression,
			UncompressedSize: &size,
			CRC:              meta.CRC,
		},
	}, nil
}

// findEndOfDirectory scans backwards for the end-of-directory record,
// validating the comment length against the remaining bytes.
func findEndOfDirectory(data []byte) (int64, error) {
	for pos := int64(len(data)) - zipEndOfDirLen; pos >= 0; pos-- {
		if binary.LittleEndian.Uint32(data[pos:]) != zipEndOfDirSignature {
			continue
		}
		commentLen := int64(binary.LittleEndian.Uint16(data[pos+20:]))
		if pos+zipEndOfDirLen+commentLen == int64(len(data)) {
			return pos, nil
		}
	}
	return 0, core.WrapError(core.ErrDecode, fmt.Errorf("end of central directory not found"))
}

// applyZip64Extra walks central-directory extra fields and substitutes
// 64-bit values for maxed 32-bit ones. Fields appear in order
// uncompressed, compressed, offset; only maxed values are present.
func applyZip64Extra(extra []byte, uncompressed, compressed, localOffset int64) (int64, int64) {
	const zip64ExtraID = 0x0001
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if 4+size > len(extra) {
			break
		}
		if id == zip64ExtraID {
			field := extra[4 : 4+size]
			if uncompressed == 0xffffffff && len(field) >= 8 {
				uncompressed = int64(binary.LittleEndian.Uint64(field))
				field = field[8:]
			}
			if compressed == 0xffffffff && len(field) >= 8 {
				field = field[8:]
			}
			if localOffset == 0xffffffff && len(field) >= 8 {
				localOffset = int64(binary.LittleEndian.Uint64(field))
			}
			break
		}
		extra = extra[4+size:]
	}
	return uncompressed, localOffset
}

func zipCompressionKind(method uint16) CompressionKind {
	switch method {
	case zipMethodStore:
		return CompressionNone
	case zipMethodDeflate:
		return CompressionDeflate
	default:
		return CompressionKind(fmt.Sprintf("zip-method-%d", method))
	}
}
