package annotations

import (
	"time"
)

// Translation is the outcome of translating a single paragraph. Exactly one
// of TranslatedText and Error is meaningful - a failed request is stored so
// the paragraph does not get retried on every repaint.
type Translation struct {
	BookID         string
	Hash           string
	OriginalText   string
	TranslatedText string
	Error          string
}

// Failed reports whether the translation attempt ended in an error.
func (t Translation) Failed() bool {
	return t.Error != ""
}

// Note is free form text attached to a paragraph. Height preserves the last
// rendered editor height so reopening the note does not jump the layout.
type Note struct {
	BookID    string
	Hash      string
	Content   string
	Height    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bookmark marks a paragraph and assigns it to a color group.
type Bookmark struct {
	BookID       string
	Hash         string
	ColorGroupID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BookmarkGroup is a named color category for bookmarks. Order controls
// presentation, it has no effect on lookups.
type BookmarkGroup struct {
	ID    string
	Name  string
	Color string
	Order int
}

// ChatThread records that a paragraph has an associated discussion. The
// store only tracks presence and message count - transcripts stay in
// persistent storage.
type ChatThread struct {
	BookID    string
	Hash      string
	Messages  int
	UpdatedAt time.Time
}
