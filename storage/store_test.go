package storage

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"inkwell/annotations"
	"inkwell/ident"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 5, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBookRegistry(t *testing.T) {
	s := openTestStore(t)

	b := Book{
		ID:         "b1",
		Path:       "/books/test.epub",
		Title:      "Test Book",
		Authors:    []string{"First Author", "Second Author"},
		Language:   "zh",
		SpineCount: 12,
	}
	if err := s.UpsertBook(b); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := s.Book("b1")
	if err != nil || !found {
		t.Fatalf("book lookup: found=%v err=%v", found, err)
	}
	if got.Title != "Test Book" || len(got.Authors) != 2 || got.Authors[1] != "Second Author" {
		t.Fatalf("unexpected book: %+v", got)
	}
	added := got.AddedAt

	// update must keep the added timestamp
	b.Title = "Renamed"
	b.AddedAt = added
	if err := s.UpsertBook(b); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, _, _ = s.Book("b1")
	if got.Title != "Renamed" || !got.AddedAt.Equal(added) {
		t.Fatalf("update changed added timestamp: %+v", got)
	}

	books, err := s.Books()
	if err != nil || len(books) != 1 {
		t.Fatalf("books listing: %v, %d entries", err, len(books))
	}

	if err := s.SaveThumbnail("b1", []byte{0xff, 0xd8, 0xff}); err != nil {
		t.Fatalf("save thumbnail: %v", err)
	}
	thumb, err := s.Thumbnail("b1")
	if err != nil || len(thumb) != 3 {
		t.Fatalf("thumbnail round trip: %v, %d bytes", err, len(thumb))
	}
}

func TestProgressRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertBook(Book{ID: "b1", Path: "/books/test.epub"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, found, err := s.Progress("b1"); err != nil || found {
		t.Fatalf("fresh book has progress: found=%v err=%v", found, err)
	}

	p := Progress{BookID: "b1", SectionIndex: 3, ParagraphHash: "2e9", OffsetPx: 140, Percent: 0.42}
	if err := s.SaveProgress(p); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	p.SectionIndex = 4
	p.UpdatedAt = time.Now()
	if err := s.SaveProgress(p); err != nil {
		t.Fatalf("replace progress: %v", err)
	}

	got, found, err := s.Progress("b1")
	if err != nil || !found {
		t.Fatalf("progress lookup: found=%v err=%v", found, err)
	}
	if got.SectionIndex != 4 || got.ParagraphHash != "2e9" || got.OffsetPx != 140 {
		t.Fatalf("unexpected progress: %+v", got)
	}
}

func TestGroupInvariants(t *testing.T) {
	s := openTestStore(t)

	groups, err := s.Groups()
	if err != nil || len(groups) != 1 || groups[0].Name != DefaultGroupName {
		t.Fatalf("default group not seeded: %+v err=%v", groups, err)
	}
	def := groups[0]

	// the only group cannot be deleted
	if err := s.DeleteGroup(def.ID); err == nil {
		t.Fatalf("deleting the last group must fail")
	}

	g2, err := s.CreateGroup("Quotes", "#3584e4")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.CreateGroup("Extra", "#000"); err != nil {
			t.Fatalf("create group %d: %v", i, err)
		}
	}
	if _, err := s.CreateGroup("Overflow", "#000"); err == nil {
		t.Fatalf("group limit not enforced")
	}

	// deleting a group cascades its bookmarks
	if err := s.PutBookmark(annotations.Bookmark{BookID: "b1", Hash: "aaa", ColorGroupID: g2.ID}); err != nil {
		t.Fatalf("put bookmark: %v", err)
	}
	if err := s.PutBookmark(annotations.Bookmark{BookID: "b1", Hash: "bbb", ColorGroupID: def.ID}); err != nil {
		t.Fatalf("put bookmark: %v", err)
	}
	if err := s.DeleteGroup(g2.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	marks, err := s.BookmarksForBook("b1")
	if err != nil || len(marks) != 1 || marks[0].ColorGroupID != def.ID {
		t.Fatalf("cascade failed: %+v err=%v", marks, err)
	}

	if err := s.DeleteGroup("no-such-group"); err == nil {
		t.Fatalf("deleting unknown group must fail")
	}
}

func TestSnapshot(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutTranslation(annotations.Translation{BookID: "b1", Hash: "aaa", OriginalText: "原文", TranslatedText: "text"}); err != nil {
		t.Fatalf("put translation: %v", err)
	}
	if err := s.PutTranslation(annotations.Translation{BookID: "b1", Hash: "bbb", Error: "timeout"}); err != nil {
		t.Fatalf("put failed translation: %v", err)
	}
	if err := s.PutNote(annotations.Note{BookID: "b1", Hash: "aaa", Content: "margin note", Height: 120}); err != nil {
		t.Fatalf("put note: %v", err)
	}
	if err := s.PutChat(annotations.ChatThread{BookID: "b1", Hash: "aaa", Messages: 4}); err != nil {
		t.Fatalf("put chat: %v", err)
	}
	// another book's rows must not leak into the snapshot
	if err := s.PutNote(annotations.Note{BookID: "b2", Hash: "zzz", Content: "other"}); err != nil {
		t.Fatalf("put other note: %v", err)
	}

	snap, err := s.Snapshot("b1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Translations) != 2 || len(snap.Notes) != 1 || len(snap.Chats) != 1 {
		t.Fatalf("unexpected snapshot sizes: %+v", snap)
	}
	if !snap.Translations[1].Failed() {
		t.Fatalf("failed translation not preserved: %+v", snap.Translations[1])
	}
	if len(snap.Groups) != 1 {
		t.Fatalf("groups missing from snapshot")
	}

	// feed the in-memory store and read back through it
	mem := annotations.NewStore(zaptest.NewLogger(t))
	mem.Load(snap)
	if n, ok := mem.Note(ident.Key("b1", "aaa")); !ok || n.Height != 120 {
		t.Fatalf("note did not survive the round trip: %+v ok=%v", n, ok)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)

	if v, err := s.Setting("theme"); err != nil || v != "" {
		t.Fatalf("absent setting: %q err=%v", v, err)
	}
	if err := s.SetSetting("theme", "sepia"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting("theme", "dark"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := s.Setting("theme"); v != "dark" {
		t.Fatalf("unexpected value: %q", v)
	}
}

func TestEmptyNoteContentDeletes(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutNote(annotations.Note{BookID: "b1", Hash: "aaa", Content: "real note"}); err != nil {
		t.Fatalf("put note: %v", err)
	}
	if err := s.PutNote(annotations.Note{BookID: "b1", Hash: "aaa", Content: ""}); err != nil {
		t.Fatalf("put emptied note: %v", err)
	}
	notes, err := s.NotesForBook("b1")
	if err != nil {
		t.Fatalf("notes listing: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("emptied note survived: %+v", notes)
	}
}

func TestEmptyGroupDeletesBookmark(t *testing.T) {
	s := openTestStore(t)

	groups, err := s.Groups()
	if err != nil || len(groups) == 0 {
		t.Fatalf("groups: %v", err)
	}
	if err := s.PutBookmark(annotations.Bookmark{BookID: "b1", Hash: "aaa", ColorGroupID: groups[0].ID}); err != nil {
		t.Fatalf("put bookmark: %v", err)
	}
	if err := s.PutBookmark(annotations.Bookmark{BookID: "b1", Hash: "aaa"}); err != nil {
		t.Fatalf("clearing the group must not fail: %v", err)
	}
	marks, err := s.BookmarksForBook("b1")
	if err != nil {
		t.Fatalf("bookmarks listing: %v", err)
	}
	if len(marks) != 0 {
		t.Fatalf("bookmark with cleared group survived: %+v", marks)
	}
}
