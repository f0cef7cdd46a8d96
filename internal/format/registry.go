// internal/format/registry.go
package format

import (
	"strings"

	"github.com/megfs/meg/internal/core"
)

// Registry holds an ordered list of archive formats. The first match
// wins; duplicates by content type are permitted.
//
// A registry is mutated only during startup. Reads after init are
// lock-free.
type Registry struct {
	formats []ArchiveFormat
}

// NewRegistry returns a registry with the default formats: tar+gzip,
// zip, tar, tar+zstd.
func NewRegistry() *Registry {
	return &Registry{
		formats: []ArchiveFormat{
			NewTarGz(),
			NewZip(),
			NewTar(),
			NewTarZstd(),
		},
	}
}

// Prepend inserts formats ahead of the existing ones.
func (r *Registry) Prepend(formats ...ArchiveFormat) {
	r.formats = append(append([]ArchiveFormat{}, formats...), r.formats...)
}

// Append adds formats after the existing ones.
func (r *Registry) Append(formats ...ArchiveFormat) {
	r.formats = append(r.formats, formats...)
}

// Formats returns the registered formats in resolution order.
func (r *Registry) Formats() []ArchiveFormat {
	return r.formats
}

// Detect resolves the format of data, trying magic bytes first, then the
// filename's extension, then a trial decode with every candidate.
func (r *Registry) Detect(data []byte, filename string) (ArchiveFormat, error) {
	for _, f := range r.formats {
		if matchesMagic(f, data) {
			return f, nil
		}
	}
	if f, ok := r.ByFilename(filename); ok {
		return f, nil
	}
	for _, f := range r.formats {
		if _, err := f.Decode(data); err == nil {
			return f, nil
		}
	}
	return nil, core.WrapError(core.ErrUnknownFormat, nil)
}

// ByFilename resolves a format by extension or filename suffix.
func (r *Registry) ByFilename(name string) (ArchiveFormat, bool) {
	if name == "" {
		return nil, false
	}
	lower := strings.ToLower(name)
	for _, f := range r.formats {
		for _, ext := range f.Extensions() {
			if strings.HasSuffix(lower, ext) {
				return f, true
			}
		}
	}
	return nil, false
}

// ByContentType resolves a format by MIME content type. For dual-part
// formats, either layer's content type matches.
func (r *Registry) ByContentType(ct string) (ArchiveFormat, bool) {
	if ct == "" {
		return nil, false
	}
	ct = normalizeContentType(ct)
	for _, f := range r.formats {
		for _, candidate := range f.ContentTypes() {
			if candidate == ct {
				return f, true
			}
		}
	}
	return nil, false
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
