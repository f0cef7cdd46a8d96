package format

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// buildTar writes a tar stream with the given path → content files.
func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for p, content := range files {
		hdr := &tar.Header{
			Name:    p,
			Mode:    0644,
			Size:    int64(len(content)),
			ModTime: time.Unix(1700000000, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	return buf.Bytes()
}

// buildZip writes a zip archive with the given path → content files.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for p, content := range files {
		w, err := zw.Create(p)
		if err != nil {
			t.Fatalf("creating zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestTarDecode(t *testing.T) {
	data := buildTar(t, map[string]string{
		"README":    "MEG",
		"src/a.txt": "alpha",
	})

	archive, err := NewTar().Decode(data)
	if err != nil {
		t.Fatalf("decoding tar: %v", err)
	}
	if len(archive.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(archive.Entries))
	}

	entry, ok := archive.Entry("README")
	if !ok {
		t.Fatal("README entry missing")
	}
	if string(entry.Data) != "MEG" {
		t.Errorf("README data = %q", entry.Data)
	}
	if entry.Kind != KindFile {
		t.Errorf("README kind = %v", entry.Kind)
	}
	if entry.Modified == nil {
		t.Error("modified time not carried over")
	}
}

func TestTarDecode_Symlink(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "target.txt",
		Mode:     0777,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "target.txt",
		Size: 2,
		Mode: 0644,
	}); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte("ok"))
	tw.Close()

	archive, err := NewTar().Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decoding tar: %v", err)
	}
	link, ok := archive.Entry("link")
	if !ok {
		t.Fatal("link entry missing")
	}
	if link.Kind != KindSymlink {
		t.Errorf("kind = %v, want symlink", link.Kind)
	}
	if link.LinkTarget() != "target.txt" {
		t.Errorf("link target = %q", link.LinkTarget())
	}
	// Link entries round-trip: decoding data as the declared encoding
	// yields the target.
	if string(link.Data) != link.Link {
		t.Errorf("data %q does not round-trip link %q", link.Data, link.Link)
	}
}

func TestTarDecode_Empty(t *testing.T) {
	archive, err := NewTar().Decode(buildTar(t, nil))
	if err != nil {
		t.Fatalf("decoding empty tar: %v", err)
	}
	if len(archive.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(archive.Entries))
	}
}

func TestZipDecode(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a/b.txt": "hello\n",
		"c.bin":   "\x00\x01\x02",
	})

	archive, err := NewZip().Decode(data)
	if err != nil {
		t.Fatalf("decoding zip: %v", err)
	}
	entry, ok := archive.Entry("a/b.txt")
	if !ok {
		t.Fatal("a/b.txt missing")
	}
	if string(entry.Data) != "hello\n" {
		t.Errorf("data = %q", entry.Data)
	}
	if entry.Metadata.CRC == "" || len(entry.Metadata.CRC) != 8 {
		t.Errorf("crc = %q, want 8 hex chars", entry.Metadata.CRC)
	}
}

func TestTarGzDecode(t *testing.T) {
	inner := buildTar(t, map[string]string{"README": "MEG"})
	data := gzipBytes(t, inner)

	archive, err := NewTarGz().Decode(data)
	if err != nil {
		t.Fatalf("decoding tar.gz: %v", err)
	}
	entry, ok := archive.Entry("README")
	if !ok {
		t.Fatal("README missing")
	}
	if string(entry.Data) != "MEG" {
		t.Errorf("data = %q", entry.Data)
	}
}

func TestDualPart_MagicMismatch(t *testing.T) {
	// Valid gzip around something that is not a tar.
	data := gzipBytes(t, []byte("plain text, not a tar stream"))

	_, err := NewTarGz().Decode(data)
	if err == nil {
		t.Fatal("expected magic mismatch error")
	}
}

func TestDualPart_ContentTypesSpanLayers(t *testing.T) {
	f := NewTarGz()
	got := f.ContentTypes()
	want := map[string]bool{"application/gzip": false, "application/x-tar": false}
	for _, ct := range got {
		if _, ok := want[ct]; ok {
			want[ct] = true
		}
	}
	for ct, seen := range want {
		if !seen {
			t.Errorf("content type %s not exposed", ct)
		}
	}
}

func TestRegistry_MagicPrecedence(t *testing.T) {
	// Zip bytes with a misleading filename: magic must win.
	data := buildZip(t, map[string]string{"x": "y"})

	reg := NewRegistry()
	f, err := reg.Detect(data, "archive.tar.gz")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if f.Name() != "zip" {
		t.Errorf("resolved %s, want zip", f.Name())
	}
}

func TestRegistry_ExtensionFallback(t *testing.T) {
	reg := NewRegistry()
	f, ok := reg.ByFilename("src.tar.gz")
	if !ok {
		t.Fatal("no format for src.tar.gz")
	}
	if f.Name() != "tar+gzip" {
		t.Errorf("resolved %s", f.Name())
	}

	f, ok = reg.ByFilename("docs.zip")
	if !ok || f.Name() != "zip" {
		t.Errorf("docs.zip resolved to %v", f)
	}
}

func TestRegistry_ByContentType(t *testing.T) {
	reg := NewRegistry()

	// Either layer of a dual-part format matches.
	for _, ct := range []string{"application/gzip", "application/x-tar"} {
		f, ok := reg.ByContentType(ct)
		if !ok {
			t.Fatalf("no format for %s", ct)
		}
		if f.Name() != "tar+gzip" {
			t.Errorf("%s resolved to %s", ct, f.Name())
		}
	}

	f, ok := reg.ByContentType("application/zip; charset=binary")
	if !ok || f.Name() != "zip" {
		t.Errorf("parameterized content type resolved to %v", f)
	}

	if _, ok := reg.ByContentType("text/html"); ok {
		t.Error("text/html should not resolve")
	}
}

func TestRegistry_UnknownFormat(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Detect([]byte("certainly not an archive"), "mystery")
	if err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestRegistry_PrependWins(t *testing.T) {
	reg := NewRegistry()
	custom := NewDualPart("tar+zstd", NewZstd(), NewTar(), ".tar.zst")
	reg.Prepend(custom)
	if reg.Formats()[0].Name() != "tar+zstd" {
		t.Error("prepended format not first")
	}
}
