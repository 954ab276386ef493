package css

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestScanVerticalWriting(t *testing.T) {
	log := zaptest.NewLogger(t)

	h := Scan([]byte(`
		html { writing-mode: vertical-rl; }
		body { font-family: serif; }
	`), log)
	if !h.Vertical {
		t.Fatalf("vertical writing not detected")
	}
	if h.RightToLeft {
		t.Fatalf("unexpected rtl hint")
	}

	h = Scan([]byte(`body { -epub-writing-mode: vertical-lr }`), log)
	if !h.Vertical {
		t.Fatalf("prefixed vertical writing not detected")
	}

	h = Scan([]byte(`p { margin: 0 }`), log)
	if h.Vertical || h.RightToLeft {
		t.Fatalf("hints from plain stylesheet: %+v", h)
	}
}

func TestScanDirection(t *testing.T) {
	h := Scan([]byte(`body { direction: rtl; }`), zaptest.NewLogger(t))
	if !h.RightToLeft {
		t.Fatalf("rtl not detected")
	}
}

func TestScanURLs(t *testing.T) {
	h := Scan([]byte(`
		@font-face { font-family: x; src: url("../fonts/a.ttf"); }
		body { background: url(images/bg.png); }
		h1 { background: url('images/bg.png'); }
		.inline { background: url(data:image/png;base64,AAAA); }
	`), zaptest.NewLogger(t))

	want := []string{"../fonts/a.ttf", "images/bg.png"}
	if len(h.URLs) != len(want) {
		t.Fatalf("unexpected urls: %v", h.URLs)
	}
	for i := range want {
		if h.URLs[i] != want[i] {
			t.Fatalf("url %d: got %q, want %q", i, h.URLs[i], want[i])
		}
	}
}

func TestMerge(t *testing.T) {
	a := Hints{Vertical: true, URLs: []string{"a.png"}}
	a.Merge(Hints{RightToLeft: true, URLs: []string{"a.png", "b.png"}})
	if !a.Vertical || !a.RightToLeft {
		t.Fatalf("merge lost flags: %+v", a)
	}
	if len(a.URLs) != 2 {
		t.Fatalf("merge duplicated urls: %v", a.URLs)
	}
}

func TestScanGarbage(t *testing.T) {
	// broken foreign stylesheets must not panic or hint anything
	h := Scan([]byte(`@media screen { .x { color: } %%%`), zaptest.NewLogger(t))
	if h.Vertical || h.RightToLeft {
		t.Fatalf("hints from garbage: %+v", h)
	}
}
