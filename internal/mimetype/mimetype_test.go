package mimetype

import (
	"strings"
	"testing"
)

func TestStdlib_ByPath(t *testing.T) {
	var r Stdlib

	got, ok := r.ByPath("docs/readme.html")
	if !ok || !strings.HasPrefix(got, "text/html") {
		t.Errorf("html = %q, %v", got, ok)
	}

	if _, ok := r.ByPath("bin/blob"); ok {
		t.Error("extensionless path should not resolve")
	}
}

func TestDetect_FallsBackToSniffing(t *testing.T) {
	var r Stdlib

	if got := Detect(r, "notes.html", nil); !strings.HasPrefix(got, "text/html") {
		t.Errorf("resolved type = %q", got)
	}

	if got := Detect(r, "LICENSE", []byte("plain ascii text")); got != "text/plain; charset=utf-8" {
		t.Errorf("utf-8 body = %q", got)
	}

	if got := Detect(r, "blob", []byte{0xff, 0xfe, 0x00, 0x81}); got != "application/octet-stream" {
		t.Errorf("binary body = %q", got)
	}
}
