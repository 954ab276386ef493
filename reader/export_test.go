package reader

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/text/language"

	"inkwell/config"
	"inkwell/epub"
	"inkwell/session"
	"inkwell/state"
)

func testSession() *session.Session {
	return &session.Session{
		BookID: "book-1",
		Path:   "/library/Семейное счастие.epub",
		Package: &epub.Package{
			Metadata: epub.Metadata{
				Title:    "Family Happiness",
				Authors:  []string{"Лев Толстой"},
				Language: language.Russian,
			},
		},
	}
}

func testEnv(t *testing.T) *state.LocalEnv {
	t.Helper()
	env := state.EnvFromContext(state.ContextWithEnv(context.Background()))
	env.Log = zaptest.NewLogger(t)
	env.Cfg = &config.Config{}
	return env
}

func TestSectionFileNameDefault(t *testing.T) {
	env := testEnv(t)
	sec := &epub.Section{ID: "ch7", Path: "OEBPS/ch7.xhtml"}

	if got := sectionFileName(testSession(), sec, 7, env); got != "007-ch7.xhtml" {
		t.Fatalf("unexpected default name: %q", got)
	}
}

func TestSectionFileNameTemplate(t *testing.T) {
	env := testEnv(t)
	env.Cfg.Export.SectionNameTemplate = `{{.Title}}-{{printf "%02d" .Index}}`
	sec := &epub.Section{ID: "ch2", Path: "OEBPS/ch2.xhtml"}

	if got := sectionFileName(testSession(), sec, 2, env); got != "Family Happiness-02.xhtml" {
		t.Fatalf("unexpected templated name: %q", got)
	}
}

func TestSectionFileNameBadTemplateFallsBack(t *testing.T) {
	env := testEnv(t)
	env.Cfg.Export.SectionNameTemplate = `{{.NoSuchField`
	sec := &epub.Section{ID: "intro", Path: "OEBPS/intro.xhtml"}

	if got := sectionFileName(testSession(), sec, 0, env); got != "000-intro.xhtml" {
		t.Fatalf("bad template must fall back to default: %q", got)
	}
}

func TestSectionFileNameTransliterate(t *testing.T) {
	env := testEnv(t)
	env.Cfg.Export.SectionNameTemplate = `{{index .Authors 0}}-{{.SectionID}}`
	env.Cfg.Export.FileNameTransliterate = true
	sec := &epub.Section{ID: "ch1", Path: "OEBPS/ch1.xhtml"}

	got := sectionFileName(testSession(), sec, 1, env)
	if !strings.HasSuffix(got, "-ch1.xhtml") {
		t.Fatalf("unexpected transliterated name: %q", got)
	}
	for _, r := range got {
		if r > 127 {
			t.Fatalf("transliterated name is not ASCII: %q", got)
		}
	}
}

func TestTemplateValues(t *testing.T) {
	s := testSession()
	sec := &epub.Section{ID: "ch3", Path: "OEBPS/ch3.xhtml"}

	out, err := expandTemplate(s, sec, 3, config.SectionNameTemplateFieldName,
		`{{.Context}}|{{.BookID}}|{{.SourceFile}}|{{.SectionPath}}`)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := "section_name_template|book-1|Семейное счастие|OEBPS/ch3.xhtml"
	if out != want {
		t.Fatalf("unexpected expansion:\n got %q\nwant %q", out, want)
	}
}
