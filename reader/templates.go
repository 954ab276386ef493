package reader

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"

	"inkwell/config"
	"inkwell/epub"
	"inkwell/session"
)

// Values holds the variables available for section name template expansion.
type Values struct {
	Context     string
	Title       string
	Authors     []string
	Language    string
	BookID      string
	SourceFile  string
	Index       int
	SectionID   string
	SectionPath string
}

func expandTemplate(s *session.Session, sec *epub.Section, index int, name config.TemplateFieldName, field string) (string, error) {
	funcMap := sprig.FuncMap()

	tmpl, err := template.New(string(name)).Funcs(funcMap).Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", name, err)
	}

	values := Values{
		Context:     string(name),
		Title:       s.Package.Metadata.Title,
		Authors:     s.Package.Metadata.Authors,
		Language:    s.Package.Metadata.Language.String(),
		BookID:      s.BookID,
		SourceFile:  strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path)),
		Index:       index,
		SectionID:   sec.ID,
		SectionPath: sec.Path,
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}
