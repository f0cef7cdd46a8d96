// internal/format/dualpart.go
package format

import (
	"fmt"

	"github.com/megfs/meg/internal/core"
)

// DualPart composes a compression layer over a container layer, applied
// compression-first (tar.gz is DualPart{Gzip, Tar}). Its magic bytes are
// the compression layer's.
type DualPart struct {
	Compression CompressionFormat
	Container   ArchiveFormat

	name       string
	extensions []string
}

// NewDualPart composes a compression and a container format under the
// given name and extensions.
func NewDualPart(name string, compression CompressionFormat, container ArchiveFormat, extensions ...string) *DualPart {
	return &DualPart{
		Compression: compression,
		Container:   container,
		name:        name,
		extensions:  extensions,
	}
}

// NewTarGz returns the gzip-compressed tar format.
func NewTarGz() *DualPart {
	return NewDualPart("tar+gzip", NewGzip(), NewTar(), ".tar.gz", ".tgz")
}

// NewTarZstd returns the zstd-compressed tar format.
func NewTarZstd() *DualPart {
	return NewDualPart("tar+zstd", NewZstd(), NewTar(), ".tar.zst")
}

func (d *DualPart) Name() string { return d.name }

func (d *DualPart) Extensions() []string { return d.extensions }

// ContentTypes returns both layers' content types so a HEAD response can
// identify the format through either.
func (d *DualPart) ContentTypes() []string {
	types := append([]string{}, d.Compression.ContentTypes()...)
	return append(types, d.Container.ContentTypes()...)
}

func (d *DualPart) Magic() []byte { return d.Compression.Magic() }

// Decode decompresses the outer layer, verifies the container's magic on
// the decompressed bytes, and decodes the container.
func (d *DualPart) Decode(data []byte) (*Archive, error) {
	inner, err := d.Compression.Decompress(data)
	if err != nil {
		return nil, err
	}
	if !matchesMagic(d.Container, inner) {
		return nil, core.WrapError(core.ErrMagicMismatch,
			fmt.Errorf("%s layer inside %s", d.Container.Name(), d.Compression.Name()))
	}
	archive, err := d.Container.Decode(inner)
	if err != nil {
		return nil, err
	}
	archive.Format = d
	return archive, nil
}
