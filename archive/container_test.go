package archive

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildTestArchive(t *testing.T, files map[string]string) *Container {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}

	c, err := OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
	if err != nil {
		t.Fatalf("open container: %v", err)
	}
	return c
}

func TestEntryLookup(t *testing.T) {
	c := buildTestArchive(t, map[string]string{
		"OEBPS/chapters/ch1.xhtml": "<html/>",
		"OEBPS/images/cover.png":   "png",
	})

	if _, ok := c.Entry("OEBPS/chapters/ch1.xhtml"); !ok {
		t.Fatalf("verbatim lookup failed")
	}
	if _, ok := c.Entry("/OEBPS/images/cover.png"); !ok {
		t.Fatalf("leading slash should be tolerated")
	}
	if _, ok := c.Entry("OEBPS/missing.xhtml"); ok {
		t.Fatalf("unexpected entry")
	}

	data, err := c.ReadFile("OEBPS/images/cover.png")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "png" {
		t.Fatalf("unexpected entry content: %q", data)
	}
}

func TestFindByNameFallback(t *testing.T) {
	c := buildTestArchive(t, map[string]string{
		"OEBPS/images/Cover.PNG": "png",
		"OEBPS/text/ch1.xhtml":   "<html/>",
	})

	p, ok := c.FindByName("broken/path/cover.png")
	if !ok {
		t.Fatalf("fallback lookup failed")
	}
	if p != "OEBPS/images/Cover.PNG" {
		t.Fatalf("unexpected fallback path: %q", p)
	}
	if _, ok := c.FindByName("nothing.jpg"); ok {
		t.Fatalf("unexpected fallback hit")
	}
}

func TestFindByNameDeterministic(t *testing.T) {
	c := buildTestArchive(t, map[string]string{
		"b/img10.png": "b",
		"a/img10.png": "a",
	})

	p, ok := c.FindByName("img10.png")
	if !ok {
		t.Fatalf("fallback lookup failed")
	}
	if p != "a/img10.png" {
		t.Fatalf("expected natural-sorted first candidate, got %q", p)
	}
}

func TestUnsafeEntriesSkipped(t *testing.T) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range []string{"../escape.txt", "ok.txt"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name})
		if err != nil {
			t.Fatalf("create header: %v", err)
		}
		if _, err := w.Write([]byte("x")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c, err := OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(c.Names()) != 1 || c.Names()[0] != "ok.txt" {
		t.Fatalf("traversal entry not skipped: %v", c.Names())
	}
}
