// internal/format/gzip.go
package format

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/megfs/meg/internal/core"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Gzip is the gzip compression layer.
type Gzip struct{}

// NewGzip returns the gzip compression format.
func NewGzip() *Gzip { return &Gzip{} }

func (g *Gzip) Name() string { return "gzip" }

func (g *Gzip) Extensions() []string { return []string{".gz"} }

func (g *Gzip) ContentTypes() []string {
	return []string{"application/gzip", "application/x-gzip"}
}

func (g *Gzip) Magic() []byte { return gzipMagic }

func (g *Gzip) Kind() CompressionKind { return CompressionGzip }

// Decompress inflates a full gzip stream.
func (g *Gzip) Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.WrapError(core.ErrDecode, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, core.WrapError(core.ErrDecode, err)
	}
	return out, nil
}
