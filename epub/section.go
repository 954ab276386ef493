package epub

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"inkwell/archive"
	"inkwell/css"
)

// Section is one spine item after sanitization, ready for rendering.
type Section struct {
	ID     string
	Path   string
	Markup string
	// Vertical is set when the section's stripped stylesheets requested
	// vertical text flow - the renderer decides what to do with it.
	Vertical bool
}

// LoaderConfig tunes section sanitization.
type LoaderConfig struct {
	// KeepUnresolvedImages leaves image references that cannot be resolved
	// untouched (they render broken); otherwise the element is removed.
	KeepUnresolvedImages bool
	// DetectVerticalWriting scans stripped stylesheets for writing-mode
	// hints.
	DetectVerticalWriting bool
}

// Loader loads and sanitizes spine sections one at a time. Loads are
// sequential by design - peak memory stays bounded and the archive reader
// is never contended.
type Loader struct {
	c   *archive.Container
	pkg *Package
	bag *ResourceBag
	cfg LoaderConfig
	log *zap.Logger
}

func NewLoader(c *archive.Container, pkg *Package, bag *ResourceBag, cfg LoaderConfig, log *zap.Logger) *Loader {
	return &Loader{c: c, pkg: pkg, bag: bag, cfg: cfg, log: log.Named("section")}
}

// Load loads and sanitizes the spine section at the given index:
// stylesheet links and inline style blocks are removed, leading full-width
// whitespace runs are stripped from paragraphs, every image reference is
// rewritten to a materialized resource URL.
func (l *Loader) Load(ctx context.Context, index int) (*Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(l.pkg.Spine) {
		return nil, fmt.Errorf("spine index %d out of range", index)
	}
	spine := l.pkg.Spine[index]
	log := l.log.With(zap.String("id", spine.ID), zap.String("path", spine.Path))

	data, err := l.c.ReadFile(spine.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to read section %q: %w", spine.Path, err)
	}

	doc := etree.NewDocument()
	// section documents are nominally XHTML but declared encodings vary
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("unable to parse section %q: %w", spine.Path, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("section %q has no root element", spine.Path)
	}

	stripped := l.stripStylesheets(doc, spine.Path, log)
	l.normalizeParagraphs(doc)
	l.rewriteImages(doc, spine.Path, log)

	sec := &Section{ID: spine.ID, Path: spine.Path}
	if l.cfg.DetectVerticalWriting {
		var hints css.Hints
		for _, sheet := range stripped {
			hints.Merge(css.Scan(sheet, log))
		}
		sec.Vertical = hints.Vertical
		if sec.Vertical {
			log.Debug("Section requests vertical text flow")
		}
	}

	markup, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize section %q: %w", spine.Path, err)
	}
	sec.Markup = markup
	return sec, nil
}

// stripStylesheets removes stylesheet links and inline style blocks - the
// renderer supplies its own styling and foreign styles cause layout
// clashes. Removed CSS text is returned for hint scanning.
func (l *Loader) stripStylesheets(doc *etree.Document, basePath string, log *zap.Logger) [][]byte {
	var stripped [][]byte

	for _, el := range doc.FindElements("//link") {
		rel := strings.ToLower(el.SelectAttrValue("rel", ""))
		typ := strings.ToLower(el.SelectAttrValue("type", ""))
		if rel != "stylesheet" && typ != "text/css" {
			continue
		}
		if l.cfg.DetectVerticalWriting {
			// link hrefs are relative to the section document, not the OPF
			href := Resolve(basePath, el.SelectAttrValue("href", ""))
			if data, err := l.readStylesheet(href); err == nil {
				stripped = append(stripped, data)
			}
		}
		removeElement(el)
	}
	for _, el := range doc.FindElements("//style") {
		stripped = append(stripped, []byte(el.Text()))
		removeElement(el)
	}
	if n := len(stripped); n > 0 {
		log.Debug("Stripped foreign stylesheets", zap.Int("count", n))
	}
	return stripped
}

func (l *Loader) readStylesheet(resolved string) ([]byte, error) {
	if data, err := l.c.ReadFile(resolved); err == nil {
		return data, nil
	}
	if p, ok := l.c.FindByName(resolved); ok {
		return l.c.ReadFile(p)
	}
	return nil, fmt.Errorf("stylesheet %q not found", resolved)
}

// fullWidthCutset is what gets trimmed from paragraph starts: source
// typesetting indents with ideographic spaces (and sometimes regular ones)
// which break reflowed layout.
const fullWidthCutset = "　  \t\r\n"

// normalizeParagraphs strips the leading whitespace run from each
// paragraph's visible content.
func (l *Loader) normalizeParagraphs(doc *etree.Document) {
	for _, p := range doc.FindElements("//p") {
		trimLeadingWhitespace(p)
	}
}

// trimLeadingWhitespace removes the leading whitespace run from the first
// visible text of the element, descending into leading child elements
// (spans and the like) until actual text is found.
func trimLeadingWhitespace(el *etree.Element) bool {
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			trimmed := strings.TrimLeft(t.Data, fullWidthCutset)
			t.Data = trimmed
			if len(trimmed) > 0 {
				return true
			}
		case *etree.Element:
			if trimLeadingWhitespace(t) {
				return true
			}
		}
	}
	return false
}

// rewriteImages resolves every image reference (standard and SVG-embedded)
// and rewrites it to a materialized resource URL. Unresolvable references
// are non-fatal.
func (l *Loader) rewriteImages(doc *etree.Document, basePath string, log *zap.Logger) {
	for _, img := range doc.FindElements("//img") {
		l.rewriteImageAttr(img, "src", basePath, log)
	}
	for _, img := range doc.FindElements("//image") {
		// SVG image elements reference via xlink:href (legacy) or href
		if attr := img.SelectAttr("xlink:href"); attr != nil {
			l.rewriteImageAttr(img, "xlink:href", basePath, log)
			continue
		}
		l.rewriteImageAttr(img, "href", basePath, log)
	}
}

func (l *Loader) rewriteImageAttr(el *etree.Element, attrKey, basePath string, log *zap.Logger) {
	ref := el.SelectAttrValue(attrKey, "")
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return
	}

	resolved := Resolve(basePath, ref)
	if strings.Contains(resolved, "://") {
		// remote reference, nothing to materialize
		return
	}

	entryPath := resolved
	if _, ok := l.c.Entry(entryPath); !ok {
		fallback, ok := l.c.FindByName(resolved)
		if !ok {
			// resource-missing: reference left as-is, image renders broken
			log.Debug("Image reference cannot be resolved", zap.String("ref", ref))
			if !l.cfg.KeepUnresolvedImages {
				removeElement(el)
			}
			return
		}
		log.Debug("Image resolved by file name fallback", zap.String("ref", ref), zap.String("entry", fallback))
		entryPath = fallback
	}

	url, err := l.bag.Materialize(l.c, entryPath)
	if err != nil {
		log.Warn("Unable to materialize image", zap.String("entry", entryPath), zap.Error(err))
		return
	}
	el.CreateAttr(attrKey, url)
}

func removeElement(el *etree.Element) {
	if parent := el.Parent(); parent != nil {
		parent.RemoveChild(el)
	}
}
