// internal/format/zstd.go
package format

import (
	"github.com/klauspost/compress/zstd"

	"github.com/megfs/meg/internal/core"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Zstd is the zstandard compression layer.
type Zstd struct{}

// NewZstd returns the zstd compression format.
func NewZstd() *Zstd { return &Zstd{} }

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) Extensions() []string { return []string{".zst"} }

func (z *Zstd) ContentTypes() []string { return []string{"application/zstd"} }

func (z *Zstd) Magic() []byte { return zstdMagic }

func (z *Zstd) Kind() CompressionKind { return CompressionZstd }

// Decompress decodes a full zstd frame sequence.
func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, core.WrapError(core.ErrDecode, err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrDecode, err)
	}
	return out, nil
}
