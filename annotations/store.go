package annotations

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"inkwell/ident"
)

// EventKind names the slice of paragraph state that changed.
type EventKind int

const (
	EventTranslation EventKind = iota
	EventNote
	EventBookmark
	EventChat
)

// Event is delivered to paragraph subscribers on every state change for
// their key. Successful and failed translations arrive through the same
// event - subscribers inspect Translation.Error.
type Event struct {
	Kind        EventKind
	Key         string
	Removed     bool
	Translation Translation
	Note        Note
	Bookmark    Bookmark
	Chat        ChatThread
}

// Store is the in-memory annotation state for the currently open book.
// Every paragraph is addressed by its content key, see ident.Key. The store
// is the single source the reading surface renders from - persistent
// storage feeds it on open and receives writes after it.
type Store struct {
	mu sync.RWMutex

	translations map[string]Translation
	notes        map[string]Note
	bookmarks    map[string]Bookmark
	chats        map[string]ChatThread
	groups       []BookmarkGroup

	noteVersion     int64
	bookmarkVersion int64

	active string

	nextSub    int
	subs       map[string]map[int]func(Event)
	groupSubs  map[int]func([]BookmarkGroup)
	activeSubs map[int]func(string)

	log *zap.Logger
}

// NewStore creates an empty annotation store.
func NewStore(log *zap.Logger) *Store {
	return &Store{
		translations: make(map[string]Translation),
		notes:        make(map[string]Note),
		bookmarks:    make(map[string]Bookmark),
		chats:        make(map[string]ChatThread),
		subs:         make(map[string]map[int]func(Event)),
		groupSubs:    make(map[int]func([]BookmarkGroup)),
		activeSubs:   make(map[int]func(string)),
		log:          log,
	}
}

// Subscribe registers a callback for state changes on a single paragraph
// key. The returned function cancels the subscription and is safe to call
// more than once.
func (s *Store) Subscribe(key string, fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	m, ok := s.subs[key]
	if !ok {
		m = make(map[int]func(Event))
		s.subs[key] = m
	}
	m[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
	}
}

// SubscribeGroups registers a callback for bookmark group list changes.
func (s *Store) SubscribeGroups(fn func([]BookmarkGroup)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.groupSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.groupSubs, id)
	}
}

// SubscribeActive registers a callback for active paragraph changes.
func (s *Store) SubscribeActive(fn func(string)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.activeSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.activeSubs, id)
	}
}

func (s *Store) notify(ev Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subs[ev.Key]))
	for _, fn := range s.subs[ev.Key] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	// callbacks run outside the lock, they are free to read the store
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Store) notifyGroups() {
	s.mu.RLock()
	groups := s.copyGroups()
	fns := make([]func([]BookmarkGroup), 0, len(s.groupSubs))
	for _, fn := range s.groupSubs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(groups)
	}
}

// Translation returns the stored translation outcome for a paragraph key.
func (s *Store) Translation(key string) (Translation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.translations[key]
	return t, ok
}

// SetTranslation stores a translation outcome and notifies the paragraph's
// subscribers. Failed attempts are stored too so a paragraph is not retried
// on every repaint.
func (s *Store) SetTranslation(t Translation) {
	key := ident.Key(t.BookID, t.Hash)
	s.mu.Lock()
	s.translations[key] = t
	s.mu.Unlock()
	s.notify(Event{Kind: EventTranslation, Key: key, Translation: t})
}

// DeleteTranslation drops a stored translation, subscribers see a removal
// event. Used when the user requests a fresh translation.
func (s *Store) DeleteTranslation(key string) {
	s.mu.Lock()
	_, ok := s.translations[key]
	delete(s.translations, key)
	s.mu.Unlock()
	if ok {
		s.notify(Event{Kind: EventTranslation, Key: key, Removed: true})
	}
}

// Note returns the note attached to a paragraph key.
func (s *Store) Note(key string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[key]
	return n, ok
}

// NotesForBook returns every note for a book sorted by key for stable
// listings.
func (s *Store) NotesForBook(bookID string) []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Note
	for _, n := range s.notes {
		if n.BookID == bookID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// SetNote stores a note and notifies the paragraph's subscribers. A note
// whose content was emptied is removed instead of kept as a blank entry.
func (s *Store) SetNote(n Note) {
	key := ident.Key(n.BookID, n.Hash)
	if strings.TrimSpace(n.Content) == "" {
		s.DeleteNote(key)
		return
	}
	s.mu.Lock()
	s.notes[key] = n
	s.noteVersion++
	s.mu.Unlock()
	s.notify(Event{Kind: EventNote, Key: key, Note: n})
}

// DeleteNote removes a note if present.
func (s *Store) DeleteNote(key string) {
	s.mu.Lock()
	_, ok := s.notes[key]
	delete(s.notes, key)
	if ok {
		s.noteVersion++
	}
	s.mu.Unlock()
	if ok {
		s.notify(Event{Kind: EventNote, Key: key, Removed: true})
	}
}

// NoteVersion is a monotonic counter bumped on every note change. List
// views compare it against their last render instead of diffing content.
func (s *Store) NoteVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.noteVersion
}

// Bookmark returns the bookmark attached to a paragraph key.
func (s *Store) Bookmark(key string) (Bookmark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookmarks[key]
	return b, ok
}

// BookmarksForBook returns every bookmark for a book sorted by key.
func (s *Store) BookmarksForBook(bookID string) []Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Bookmark
	for _, b := range s.bookmarks {
		if b.BookID == bookID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// SetBookmark stores a bookmark and notifies the paragraph's subscribers.
// Clearing the color group removes the bookmark.
func (s *Store) SetBookmark(b Bookmark) {
	key := ident.Key(b.BookID, b.Hash)
	if b.ColorGroupID == "" {
		s.DeleteBookmark(key)
		return
	}
	s.mu.Lock()
	s.bookmarks[key] = b
	s.bookmarkVersion++
	s.mu.Unlock()
	s.notify(Event{Kind: EventBookmark, Key: key, Bookmark: b})
}

// DeleteBookmark removes a bookmark if present.
func (s *Store) DeleteBookmark(key string) {
	s.mu.Lock()
	_, ok := s.bookmarks[key]
	delete(s.bookmarks, key)
	if ok {
		s.bookmarkVersion++
	}
	s.mu.Unlock()
	if ok {
		s.notify(Event{Kind: EventBookmark, Key: key, Removed: true})
	}
}

// BookmarkVersion is a monotonic counter bumped on every bookmark change.
func (s *Store) BookmarkVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookmarkVersion
}

// Chat returns chat thread presence for a paragraph key.
func (s *Store) Chat(key string) (ChatThread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[key]
	return c, ok
}

// SetChat stores chat thread presence and notifies the paragraph's
// subscribers.
func (s *Store) SetChat(c ChatThread) {
	key := ident.Key(c.BookID, c.Hash)
	s.mu.Lock()
	s.chats[key] = c
	s.mu.Unlock()
	s.notify(Event{Kind: EventChat, Key: key, Chat: c})
}

// DeleteChat removes chat thread presence if present.
func (s *Store) DeleteChat(key string) {
	s.mu.Lock()
	_, ok := s.chats[key]
	delete(s.chats, key)
	s.mu.Unlock()
	if ok {
		s.notify(Event{Kind: EventChat, Key: key, Removed: true})
	}
}

func (s *Store) copyGroups() []BookmarkGroup {
	out := make([]BookmarkGroup, len(s.groups))
	copy(out, s.groups)
	return out
}

// Groups returns the bookmark groups in presentation order.
func (s *Store) Groups() []BookmarkGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyGroups()
}

// SetGroups replaces the bookmark group list and notifies group
// subscribers. Groups are kept sorted by their presentation order.
func (s *Store) SetGroups(groups []BookmarkGroup) {
	s.mu.Lock()
	s.groups = make([]BookmarkGroup, len(groups))
	copy(s.groups, groups)
	sort.SliceStable(s.groups, func(i, j int) bool { return s.groups[i].Order < s.groups[j].Order })
	s.mu.Unlock()
	s.notifyGroups()
}

// RemoveBookmarksInGroup drops every bookmark assigned to a group and
// notifies affected paragraphs. Used when the group itself is deleted.
func (s *Store) RemoveBookmarksInGroup(groupID string) {
	s.mu.Lock()
	var removed []string
	for key, b := range s.bookmarks {
		if b.ColorGroupID == groupID {
			delete(s.bookmarks, key)
			removed = append(removed, key)
		}
	}
	if len(removed) > 0 {
		s.bookmarkVersion++
	}
	s.mu.Unlock()

	for _, key := range removed {
		s.notify(Event{Kind: EventBookmark, Key: key, Removed: true})
	}
}

// ActiveParagraph returns the key of the paragraph currently in reading
// focus, empty when none.
func (s *Store) ActiveParagraph() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveParagraph moves the reading focus and notifies focus
// subscribers. Setting the current value again is a no-op.
func (s *Store) SetActiveParagraph(key string) {
	s.mu.Lock()
	if s.active == key {
		s.mu.Unlock()
		return
	}
	s.active = key
	fns := make([]func(string), 0, len(s.activeSubs))
	for _, fn := range s.activeSubs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

// Snapshot is the bulk state loaded from persistent storage on book open.
type Snapshot struct {
	Translations []Translation
	Notes        []Note
	Bookmarks    []Bookmark
	Chats        []ChatThread
	Groups       []BookmarkGroup
}

// Load fills the store from a storage snapshot and fires notifications for
// every loaded key, so paragraphs subscribed before the load completes
// still render their state.
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	for _, t := range snap.Translations {
		s.translations[ident.Key(t.BookID, t.Hash)] = t
	}
	for _, n := range snap.Notes {
		s.notes[ident.Key(n.BookID, n.Hash)] = n
	}
	for _, b := range snap.Bookmarks {
		s.bookmarks[ident.Key(b.BookID, b.Hash)] = b
	}
	for _, c := range snap.Chats {
		s.chats[ident.Key(c.BookID, c.Hash)] = c
	}
	if snap.Groups != nil {
		s.groups = make([]BookmarkGroup, len(snap.Groups))
		copy(s.groups, snap.Groups)
		sort.SliceStable(s.groups, func(i, j int) bool { return s.groups[i].Order < s.groups[j].Order })
	}
	if len(snap.Notes) > 0 {
		s.noteVersion++
	}
	if len(snap.Bookmarks) > 0 {
		s.bookmarkVersion++
	}
	s.mu.Unlock()

	s.log.Debug("Annotation state loaded",
		zap.Int("translations", len(snap.Translations)),
		zap.Int("notes", len(snap.Notes)),
		zap.Int("bookmarks", len(snap.Bookmarks)),
		zap.Int("chats", len(snap.Chats)),
		zap.Int("groups", len(snap.Groups)))

	for _, t := range snap.Translations {
		s.notify(Event{Kind: EventTranslation, Key: ident.Key(t.BookID, t.Hash), Translation: t})
	}
	for _, n := range snap.Notes {
		s.notify(Event{Kind: EventNote, Key: ident.Key(n.BookID, n.Hash), Note: n})
	}
	for _, b := range snap.Bookmarks {
		s.notify(Event{Kind: EventBookmark, Key: ident.Key(b.BookID, b.Hash), Bookmark: b})
	}
	for _, c := range snap.Chats {
		s.notify(Event{Kind: EventChat, Key: ident.Key(c.BookID, c.Hash), Chat: c})
	}
	if snap.Groups != nil {
		s.notifyGroups()
	}
}

// Reset drops all per-book state when a book is closed. Subscriptions are
// dropped too - the reading surface they belong to is gone.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translations = make(map[string]Translation)
	s.notes = make(map[string]Note)
	s.bookmarks = make(map[string]Bookmark)
	s.chats = make(map[string]ChatThread)
	s.subs = make(map[string]map[int]func(Event))
	s.active = ""
}
