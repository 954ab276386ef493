package annotations

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"inkwell/ident"
)

func TestTranslationRoundTrip(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	if _, ok := s.Translation("book|abc"); ok {
		t.Fatalf("empty store returned a translation")
	}

	s.SetTranslation(Translation{BookID: "book", Hash: "abc", OriginalText: "原文", TranslatedText: "original text"})
	got, ok := s.Translation(ident.Key("book", "abc"))
	if !ok || got.TranslatedText != "original text" {
		t.Fatalf("unexpected translation: %+v ok=%v", got, ok)
	}
	if got.Failed() {
		t.Fatalf("successful translation reported as failed")
	}
}

func TestSubscriptionIsolation(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	var mine, other []Event
	cancel := s.Subscribe(ident.Key("book", "aaa"), func(ev Event) { mine = append(mine, ev) })
	defer cancel()
	cancelOther := s.Subscribe(ident.Key("book", "bbb"), func(ev Event) { other = append(other, ev) })
	defer cancelOther()

	s.SetTranslation(Translation{BookID: "book", Hash: "aaa", TranslatedText: "one"})
	s.SetNote(Note{BookID: "book", Hash: "aaa", Content: "remark"})

	if len(mine) != 2 {
		t.Fatalf("expected 2 events, got %d", len(mine))
	}
	if len(other) != 0 {
		t.Fatalf("subscriber for another key received %d events", len(other))
	}
	if mine[0].Kind != EventTranslation || mine[1].Kind != EventNote {
		t.Fatalf("unexpected event kinds: %v %v", mine[0].Kind, mine[1].Kind)
	}

	cancel()
	s.SetTranslation(Translation{BookID: "book", Hash: "aaa", TranslatedText: "two"})
	if len(mine) != 2 {
		t.Fatalf("cancelled subscriber received events")
	}
}

func TestTranslationErrorDelivery(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	key := ident.Key("book", "ccc")
	var events []Event
	cancel := s.Subscribe(key, func(ev Event) { events = append(events, ev) })
	defer cancel()

	s.SetTranslation(Translation{BookID: "book", Hash: "ccc", Error: "service unavailable"})
	s.SetTranslation(Translation{BookID: "book", Hash: "ccc", TranslatedText: "worked on retry"})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Translation.Failed() {
		t.Fatalf("first event should carry the error")
	}
	if events[1].Translation.Failed() {
		t.Fatalf("second event should carry the success")
	}

	// the failure stays stored, the paragraph is not retried on repaint
	s.DeleteTranslation(key)
	if len(events) != 3 || !events[2].Removed {
		t.Fatalf("delete did not produce a removal event: %+v", events)
	}
}

func TestVersionsAndGroupCascade(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	if s.BookmarkVersion() != 0 {
		t.Fatalf("fresh store has nonzero bookmark version")
	}
	s.SetBookmark(Bookmark{BookID: "book", Hash: "aaa", ColorGroupID: "g1"})
	s.SetBookmark(Bookmark{BookID: "book", Hash: "bbb", ColorGroupID: "g1"})
	s.SetBookmark(Bookmark{BookID: "book", Hash: "ccc", ColorGroupID: "g2"})
	if v := s.BookmarkVersion(); v != 3 {
		t.Fatalf("expected version 3, got %d", v)
	}

	s.RemoveBookmarksInGroup("g1")
	if got := s.BookmarksForBook("book"); len(got) != 1 || got[0].ColorGroupID != "g2" {
		t.Fatalf("group cascade left wrong bookmarks: %+v", got)
	}
	if v := s.BookmarkVersion(); v != 4 {
		t.Fatalf("cascade should bump version once, got %d", v)
	}

	v := s.NoteVersion()
	s.DeleteNote(ident.Key("book", "zzz"))
	if s.NoteVersion() != v {
		t.Fatalf("deleting an absent note bumped the version")
	}
}

func TestGroupsSortedAndNotified(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	var seen [][]BookmarkGroup
	cancel := s.SubscribeGroups(func(groups []BookmarkGroup) { seen = append(seen, groups) })
	defer cancel()

	s.SetGroups([]BookmarkGroup{
		{ID: "g2", Name: "Later", Order: 2},
		{ID: "g1", Name: "Favorites", Order: 1},
	})

	groups := s.Groups()
	if len(groups) != 2 || groups[0].ID != "g1" || groups[1].ID != "g2" {
		t.Fatalf("groups not in presentation order: %+v", groups)
	}
	if len(seen) != 1 || len(seen[0]) != 2 {
		t.Fatalf("group subscriber not notified: %+v", seen)
	}
}

func TestActiveParagraph(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	var changes []string
	cancel := s.SubscribeActive(func(key string) { changes = append(changes, key) })
	defer cancel()

	s.SetActiveParagraph("book|aaa")
	s.SetActiveParagraph("book|aaa") // no-op
	s.SetActiveParagraph("book|bbb")

	if len(changes) != 2 || changes[0] != "book|aaa" || changes[1] != "book|bbb" {
		t.Fatalf("unexpected focus changes: %v", changes)
	}
	if s.ActiveParagraph() != "book|bbb" {
		t.Fatalf("unexpected active paragraph: %q", s.ActiveParagraph())
	}
}

func TestLoadFiresForLateSubscribers(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	key := ident.Key("book", "aaa")
	var events []Event
	cancel := s.Subscribe(key, func(ev Event) { events = append(events, ev) })
	defer cancel()

	now := time.Now()
	s.Load(Snapshot{
		Translations: []Translation{{BookID: "book", Hash: "aaa", TranslatedText: "loaded"}},
		Notes:        []Note{{BookID: "book", Hash: "aaa", Content: "loaded note", CreatedAt: now}},
		Bookmarks:    []Bookmark{{BookID: "book", Hash: "bbb", ColorGroupID: "g1"}},
		Groups:       []BookmarkGroup{{ID: "g1", Name: "Default", Order: 1}},
	})

	if len(events) != 2 {
		t.Fatalf("expected translation and note events, got %d", len(events))
	}
	if n, ok := s.Note(key); !ok || n.Content != "loaded note" {
		t.Fatalf("note not loaded: %+v ok=%v", n, ok)
	}
	if _, ok := s.Bookmark(ident.Key("book", "bbb")); !ok {
		t.Fatalf("bookmark not loaded")
	}
	if len(s.Groups()) != 1 {
		t.Fatalf("groups not loaded")
	}
}

func TestEmptyContentRemovesNote(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	key := ident.Key("book", "aaa")
	var events []Event
	cancel := s.Subscribe(key, func(ev Event) { events = append(events, ev) })
	defer cancel()

	s.SetNote(Note{BookID: "book", Hash: "aaa", Content: "real note"})
	v := s.NoteVersion()
	s.SetNote(Note{BookID: "book", Hash: "aaa", Content: "  "})

	if _, ok := s.Note(key); ok {
		t.Fatalf("emptied note survived")
	}
	if s.NoteVersion() == v {
		t.Fatalf("note version not bumped on removal")
	}
	if len(events) != 2 || !events[1].Removed {
		t.Fatalf("expected set then removal events, got %+v", events)
	}

	// blanking a paragraph that never had a note changes nothing
	s.SetNote(Note{BookID: "book", Hash: "bbb"})
	if s.NoteVersion() != v+1 {
		t.Fatalf("no-op blank bumped the version")
	}
}

func TestEmptyGroupRemovesBookmark(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	key := ident.Key("book", "aaa")
	var events []Event
	cancel := s.Subscribe(key, func(ev Event) { events = append(events, ev) })
	defer cancel()

	s.SetBookmark(Bookmark{BookID: "book", Hash: "aaa", ColorGroupID: "g1"})
	s.SetBookmark(Bookmark{BookID: "book", Hash: "aaa"})

	if _, ok := s.Bookmark(key); ok {
		t.Fatalf("bookmark with cleared group survived")
	}
	if len(events) != 2 || !events[1].Removed {
		t.Fatalf("expected set then removal events, got %+v", events)
	}
}
