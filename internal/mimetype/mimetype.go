// internal/mimetype/mimetype.go

// Package mimetype resolves content types for paths served out of
// archives.
package mimetype

import (
	"mime"
	"path"
	"unicode/utf8"
)

// sniffLen bounds how much of a body the text fallback inspects.
const sniffLen = 512

// Resolver maps a file path to a MIME type.
type Resolver interface {
	ByPath(p string) (string, bool)
}

// Stdlib resolves through the platform MIME table.
type Stdlib struct{}

func (Stdlib) ByPath(p string) (string, bool) {
	t := mime.TypeByExtension(path.Ext(p))
	return t, t != ""
}

// Detect resolves the content type for an entry. When the resolver has
// no answer it sniffs the first chunk: valid UTF-8 is served as
// text/plain, anything else as application/octet-stream.
func Detect(r Resolver, p string, body []byte) string {
	if t, ok := r.ByPath(p); ok {
		return t
	}
	chunk := body
	if len(chunk) > sniffLen {
		chunk = chunk[:sniffLen]
	}
	if utf8.Valid(chunk) {
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
