// Package epub implements the ingestion pipeline turning a third-party
// e-book container into safely renderable, resource-resolved markup.
package epub

import (
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"inkwell/archive"
)

const containerPath = "META-INF/container.xml"

// ManifestItem is a single resource declared by the OPF manifest. Href is
// already resolved to a full archive path.
type ManifestItem struct {
	ID         string
	Path       string
	MediaType  string
	Properties string
}

// SpineItem is one entry of the ordered readable body of the book.
type SpineItem struct {
	ID   string
	Path string
}

// Metadata carries the subset of OPF metadata the reader needs.
type Metadata struct {
	Title      string
	Authors    []string
	Language   language.Tag
	Identifier string

	coverID string
}

// Package is the parsed OPF package document: metadata, manifest and spine.
type Package struct {
	OPFPath  string
	Metadata Metadata
	Manifest map[string]ManifestItem
	Spine    []SpineItem
}

// ParsePackage locates the package document inside the container and parses
// it. A missing or broken META-INF/container.xml degrades to scanning the
// archive for the first .opf entry - plenty of real archives get the
// container descriptor wrong.
func ParsePackage(c *archive.Container, log *zap.Logger) (*Package, error) {
	opfPath, err := locateRootFile(c, log)
	if err != nil {
		return nil, err
	}

	data, err := c.ReadFile(opfPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read package document: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("unable to parse package document %q: %w", opfPath, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "package" {
		return nil, fmt.Errorf("document %q is not an OPF package", opfPath)
	}

	pkg := &Package{
		OPFPath:  opfPath,
		Manifest: make(map[string]ManifestItem),
	}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "metadata":
			pkg.Metadata = parseMetadata(child, log)
		case "manifest":
			pkg.parseManifest(child, log)
		case "spine":
			pkg.parseSpine(child, log)
		case "guide", "bindings", "collection":
			// legacy and optional sections, nothing we render from them
		default:
			log.Debug("Unexpected tag in OPF package, ignoring", zap.String("tag", child.Tag))
		}
	}

	if len(pkg.Spine) == 0 {
		pkg.scanSpine(c, log)
	}
	if len(pkg.Spine) == 0 {
		return nil, fmt.Errorf("package %q has empty spine", opfPath)
	}
	return pkg, nil
}

func locateRootFile(c *archive.Container, log *zap.Logger) (string, error) {
	if data, err := c.ReadFile(containerPath); err == nil {
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(data); err == nil {
			if el := doc.FindElement("//rootfile"); el != nil {
				if p := el.SelectAttrValue("full-path", ""); p != "" {
					if _, ok := c.Entry(p); ok {
						return p, nil
					}
					log.Warn("Container descriptor points to missing package document", zap.String("path", p))
				}
			}
		} else {
			log.Warn("Broken container descriptor, falling back to archive scan", zap.Error(err))
		}
	}

	for _, name := range c.Names() {
		if strings.HasSuffix(strings.ToLower(name), ".opf") {
			log.Debug("Using package document found by archive scan", zap.String("path", name))
			return name, nil
		}
	}
	return "", fmt.Errorf("no package document found in container")
}

func parseMetadata(el *etree.Element, log *zap.Logger) Metadata {
	var meta Metadata
	meta.Language = language.Und

	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "title":
			if meta.Title == "" {
				meta.Title = strings.TrimSpace(child.Text())
			}
		case "creator":
			if name := strings.TrimSpace(child.Text()); name != "" {
				meta.Authors = append(meta.Authors, name)
			}
		case "language":
			tag, err := language.Parse(strings.TrimSpace(child.Text()))
			if err != nil {
				log.Debug("Unable to parse book language", zap.String("value", child.Text()), zap.Error(err))
				continue
			}
			meta.Language = tag
		case "identifier":
			if meta.Identifier == "" {
				meta.Identifier = strings.TrimSpace(child.Text())
			}
		case "meta":
			// EPUB2 cover convention: <meta name="cover" content="item-id"/>
			if child.SelectAttrValue("name", "") == "cover" {
				meta.coverID = child.SelectAttrValue("content", "")
			}
		}
	}
	return meta
}

func (p *Package) parseManifest(el *etree.Element, log *zap.Logger) {
	for _, item := range el.ChildElements() {
		if item.Tag != "item" {
			continue
		}
		id := item.SelectAttrValue("id", "")
		href := item.SelectAttrValue("href", "")
		if id == "" || href == "" {
			log.Debug("Manifest item without id or href, ignoring")
			continue
		}
		p.Manifest[id] = ManifestItem{
			ID:         id,
			Path:       Resolve(p.OPFPath, href),
			MediaType:  item.SelectAttrValue("media-type", ""),
			Properties: item.SelectAttrValue("properties", ""),
		}
	}
}

func (p *Package) parseSpine(el *etree.Element, log *zap.Logger) {
	for _, ref := range el.ChildElements() {
		if ref.Tag != "itemref" {
			continue
		}
		idref := ref.SelectAttrValue("idref", "")
		item, ok := p.Manifest[idref]
		if !ok {
			log.Warn("Spine references unknown manifest item, skipping", zap.String("idref", idref))
			continue
		}
		p.Spine = append(p.Spine, SpineItem{ID: idref, Path: item.Path})
	}
}

// scanSpine builds a positional spine from the container's document
// entries in archive order. Used when the package declares no spine at
// all, ids are synthesized since there is nothing to take them from.
func (p *Package) scanSpine(c *archive.Container, log *zap.Logger) {
	for _, name := range c.Names() {
		switch strings.ToLower(path.Ext(name)) {
		case ".xhtml", ".html", ".htm":
		default:
			continue
		}
		p.Spine = append(p.Spine, SpineItem{ID: fmt.Sprintf("section-%d", len(p.Spine)), Path: name})
	}
	if len(p.Spine) > 0 {
		log.Warn("Package declares no spine, using document entries in archive order",
			zap.Int("sections", len(p.Spine)))
	}
}

// CoverItem returns the manifest item holding the cover image, preferring
// the EPUB3 cover-image property over the EPUB2 meta convention.
func (p *Package) CoverItem() (ManifestItem, bool) {
	for _, item := range p.Manifest {
		for prop := range strings.FieldsSeq(item.Properties) {
			if prop == "cover-image" {
				return item, true
			}
		}
	}
	if p.Metadata.coverID != "" {
		item, ok := p.Manifest[p.Metadata.coverID]
		return item, ok
	}
	return ManifestItem{}, false
}
