package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"inkwell/annotations"
	"inkwell/ident"
)

// Book is a library registry entry.
type Book struct {
	ID         string
	Path       string
	Title      string
	Authors    []string
	Language   string
	Identifier string
	SpineCount int
	AddedAt    time.Time
	OpenedAt   time.Time
}

// Progress is the last confirmed reading position of a book.
type Progress struct {
	BookID        string
	SectionIndex  int
	ParagraphHash string
	OffsetPx      int
	Percent       float64
	UpdatedAt     time.Time
}

// DefaultGroupName names the bookmark group seeded into a fresh database.
const DefaultGroupName = "Default"

const defaultGroupColor = "#e01b24"

// Store is the persistent side of the reader: library registry, reading
// positions and annotations. The connection is single threaded, callers go
// through the store's own lock.
type Store struct {
	mu        sync.Mutex
	conn      *sqlite.Conn
	maxGroups int
	log       *zap.Logger
}

// Open opens (creating when necessary) the reader database and brings its
// schema up to date. A fresh database gets the default bookmark group.
// Use ":memory:" for a throwaway database.
func Open(path string, maxGroups int, log *zap.Logger) (*Store, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL}
	if path == ":memory:" {
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenMemory}
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("unable to open database %q: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, `PRAGMA foreign_keys = ON`, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to enable foreign keys: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	s := &Store{conn: conn, maxGroups: maxGroups, log: log}
	if err := s.seedDefaultGroup(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Store) seedDefaultGroup() error {
	groups, err := s.Groups()
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		return nil
	}
	_, err = s.CreateGroup(DefaultGroupName, defaultGroupColor)
	return err
}

// UpsertBook registers a book or refreshes its metadata, keeping the
// original added timestamp on update.
func (s *Store) UpsertBook(b Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if b.AddedAt.IsZero() {
		b.AddedAt = now
	}
	if b.OpenedAt.IsZero() {
		b.OpenedAt = now
	}
	return sqlitex.Execute(s.conn, `
INSERT INTO books (id, path, title, authors, language, identifier, spine_count, added_at, opened_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	path = excluded.path,
	title = excluded.title,
	authors = excluded.authors,
	language = excluded.language,
	identifier = excluded.identifier,
	spine_count = excluded.spine_count,
	opened_at = excluded.opened_at`,
		&sqlitex.ExecOptions{Args: []any{
			b.ID, b.Path, b.Title, strings.Join(b.Authors, "\x1f"), b.Language,
			b.Identifier, b.SpineCount, b.AddedAt.Unix(), b.OpenedAt.Unix(),
		}})
}

// TouchBook updates a book's last opened timestamp.
func (s *Store) TouchBook(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `UPDATE books SET opened_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{time.Now().Unix(), id}})
}

func scanBook(stmt *sqlite.Stmt) Book {
	b := Book{
		ID:         stmt.ColumnText(0),
		Path:       stmt.ColumnText(1),
		Title:      stmt.ColumnText(2),
		Language:   stmt.ColumnText(4),
		Identifier: stmt.ColumnText(5),
		SpineCount: stmt.ColumnInt(6),
		AddedAt:    time.Unix(stmt.ColumnInt64(7), 0),
		OpenedAt:   time.Unix(stmt.ColumnInt64(8), 0),
	}
	if authors := stmt.ColumnText(3); authors != "" {
		b.Authors = strings.Split(authors, "\x1f")
	}
	return b
}

const bookColumns = `id, path, title, authors, language, identifier, spine_count, added_at, opened_at`

// Book returns a registry entry by id.
func (s *Store) Book(id string) (Book, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b Book
	var found bool
	err := sqlitex.Execute(s.conn, `SELECT `+bookColumns+` FROM books WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b = scanBook(stmt)
				found = true
				return nil
			}})
	return b, found, err
}

// Books returns the library registry, most recently opened first.
func (s *Store) Books() ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Book
	err := sqlitex.Execute(s.conn, `SELECT `+bookColumns+` FROM books ORDER BY opened_at DESC, title`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanBook(stmt))
			return nil
		}})
	return out, err
}

// DeleteBook removes a book and all of its dependent rows.
func (s *Store) DeleteBook(id string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer sqlitex.Save(s.conn)(&err)
	for _, q := range []string{
		`DELETE FROM translations WHERE book_id = ?`,
		`DELETE FROM notes WHERE book_id = ?`,
		`DELETE FROM bookmarks WHERE book_id = ?`,
		`DELETE FROM chat_threads WHERE book_id = ?`,
		`DELETE FROM books WHERE id = ?`,
	} {
		if err := sqlitex.Execute(s.conn, q, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
	}
	return nil
}

// SaveThumbnail stores the cover thumbnail for a book.
func (s *Store) SaveThumbnail(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `UPDATE books SET thumbnail = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{data, id}})
}

// Thumbnail returns the stored cover thumbnail, nil when absent.
func (s *Store) Thumbnail(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := sqlitex.Execute(s.conn, `SELECT thumbnail FROM books WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stmt.ColumnLen(0) > 0 {
					data = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, data)
				}
				return nil
			}})
	return data, err
}

// SaveProgress stores the reading position for a book, replacing any
// previous one.
func (s *Store) SaveProgress(p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return sqlitex.Execute(s.conn, `
INSERT INTO progress (book_id, section_index, paragraph_hash, offset_px, percent, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(book_id) DO UPDATE SET
	section_index = excluded.section_index,
	paragraph_hash = excluded.paragraph_hash,
	offset_px = excluded.offset_px,
	percent = excluded.percent,
	updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			p.BookID, p.SectionIndex, p.ParagraphHash, p.OffsetPx, p.Percent, p.UpdatedAt.Unix(),
		}})
}

// Progress returns the stored reading position for a book.
func (s *Store) Progress(bookID string) (Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p Progress
	var found bool
	err := sqlitex.Execute(s.conn,
		`SELECT book_id, section_index, paragraph_hash, offset_px, percent, updated_at FROM progress WHERE book_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p = Progress{
					BookID:        stmt.ColumnText(0),
					SectionIndex:  stmt.ColumnInt(1),
					ParagraphHash: stmt.ColumnText(2),
					OffsetPx:      stmt.ColumnInt(3),
					Percent:       stmt.ColumnFloat(4),
					UpdatedAt:     time.Unix(stmt.ColumnInt64(5), 0),
				}
				found = true
				return nil
			}})
	return p, found, err
}

// PutTranslation stores a translation outcome, success or failure alike.
func (s *Store) PutTranslation(t annotations.Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `
INSERT INTO translations (key, book_id, hash, original_text, translated_text, error, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	original_text = excluded.original_text,
	translated_text = excluded.translated_text,
	error = excluded.error,
	updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			ident.Key(t.BookID, t.Hash), t.BookID, t.Hash,
			t.OriginalText, t.TranslatedText, t.Error, time.Now().Unix(),
		}})
}

// DeleteTranslation drops a stored translation.
func (s *Store) DeleteTranslation(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `DELETE FROM translations WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}})
}

// TranslationsForBook returns every stored translation outcome for a book.
func (s *Store) TranslationsForBook(bookID string) ([]annotations.Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []annotations.Translation
	err := sqlitex.Execute(s.conn,
		`SELECT book_id, hash, original_text, translated_text, error FROM translations WHERE book_id = ? ORDER BY hash`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, annotations.Translation{
					BookID:         stmt.ColumnText(0),
					Hash:           stmt.ColumnText(1),
					OriginalText:   stmt.ColumnText(2),
					TranslatedText: stmt.ColumnText(3),
					Error:          stmt.ColumnText(4),
				})
				return nil
			}})
	return out, err
}

// PutNote stores a note. Emptied content deletes the row instead.
func (s *Store) PutNote(n annotations.Note) error {
	if strings.TrimSpace(n.Content) == "" {
		return s.DeleteNote(ident.Key(n.BookID, n.Hash))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	return sqlitex.Execute(s.conn, `
INSERT INTO notes (key, book_id, hash, content, height, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	content = excluded.content,
	height = excluded.height,
	updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			ident.Key(n.BookID, n.Hash), n.BookID, n.Hash,
			n.Content, n.Height, n.CreatedAt.Unix(), n.UpdatedAt.Unix(),
		}})
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `DELETE FROM notes WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}})
}

// NotesForBook returns every note for a book.
func (s *Store) NotesForBook(bookID string) ([]annotations.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []annotations.Note
	err := sqlitex.Execute(s.conn,
		`SELECT book_id, hash, content, height, created_at, updated_at FROM notes WHERE book_id = ? ORDER BY hash`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, annotations.Note{
					BookID:    stmt.ColumnText(0),
					Hash:      stmt.ColumnText(1),
					Content:   stmt.ColumnText(2),
					Height:    stmt.ColumnInt(3),
					CreatedAt: time.Unix(stmt.ColumnInt64(4), 0),
					UpdatedAt: time.Unix(stmt.ColumnInt64(5), 0),
				})
				return nil
			}})
	return out, err
}

// PutBookmark stores a bookmark. The group must exist; a bookmark with no
// group deletes the row instead.
func (s *Store) PutBookmark(b annotations.Bookmark) error {
	if b.ColorGroupID == "" {
		return s.DeleteBookmark(ident.Key(b.BookID, b.Hash))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return sqlitex.Execute(s.conn, `
INSERT INTO bookmarks (key, book_id, hash, group_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	group_id = excluded.group_id,
	updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			ident.Key(b.BookID, b.Hash), b.BookID, b.Hash,
			b.ColorGroupID, b.CreatedAt.Unix(), b.UpdatedAt.Unix(),
		}})
}

// DeleteBookmark removes a bookmark.
func (s *Store) DeleteBookmark(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `DELETE FROM bookmarks WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}})
}

// BookmarksForBook returns every bookmark for a book.
func (s *Store) BookmarksForBook(bookID string) ([]annotations.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []annotations.Bookmark
	err := sqlitex.Execute(s.conn,
		`SELECT book_id, hash, group_id, created_at, updated_at FROM bookmarks WHERE book_id = ? ORDER BY hash`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, annotations.Bookmark{
					BookID:       stmt.ColumnText(0),
					Hash:         stmt.ColumnText(1),
					ColorGroupID: stmt.ColumnText(2),
					CreatedAt:    time.Unix(stmt.ColumnInt64(3), 0),
					UpdatedAt:    time.Unix(stmt.ColumnInt64(4), 0),
				})
				return nil
			}})
	return out, err
}

// Groups returns the bookmark groups in presentation order.
func (s *Store) Groups() ([]annotations.BookmarkGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupsLocked()
}

func (s *Store) groupsLocked() ([]annotations.BookmarkGroup, error) {
	var out []annotations.BookmarkGroup
	err := sqlitex.Execute(s.conn, `SELECT id, name, color, ord FROM bookmark_groups ORDER BY ord, name`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, annotations.BookmarkGroup{
				ID:    stmt.ColumnText(0),
				Name:  stmt.ColumnText(1),
				Color: stmt.ColumnText(2),
				Order: stmt.ColumnInt(3),
			})
			return nil
		}})
	return out, err
}

// CreateGroup adds a bookmark group at the end of the presentation order.
// The configured group limit is enforced here.
func (s *Store) CreateGroup(name, color string) (annotations.BookmarkGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.groupsLocked()
	if err != nil {
		return annotations.BookmarkGroup{}, err
	}
	if s.maxGroups > 0 && len(groups) >= s.maxGroups {
		return annotations.BookmarkGroup{}, fmt.Errorf("bookmark group limit %d reached", s.maxGroups)
	}

	ord := 0
	for _, g := range groups {
		if g.Order >= ord {
			ord = g.Order + 1
		}
	}
	g := annotations.BookmarkGroup{ID: uuid.NewString(), Name: name, Color: color, Order: ord}
	err = sqlitex.Execute(s.conn, `INSERT INTO bookmark_groups (id, name, color, ord) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{g.ID, g.Name, g.Color, g.Order}})
	if err != nil {
		return annotations.BookmarkGroup{}, err
	}
	s.log.Debug("Bookmark group created", zap.String("id", g.ID), zap.String("name", g.Name))
	return g, nil
}

// UpdateGroup changes a group's name, color or order.
func (s *Store) UpdateGroup(g annotations.BookmarkGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := sqlitex.Execute(s.conn, `UPDATE bookmark_groups SET name = ?, color = ?, ord = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{g.Name, g.Color, g.Order, g.ID}})
	if err != nil {
		return err
	}
	if s.conn.Changes() == 0 {
		return fmt.Errorf("bookmark group %q does not exist", g.ID)
	}
	return nil
}

// DeleteGroup removes a bookmark group along with every bookmark assigned
// to it. The last remaining group cannot be deleted.
func (s *Store) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.groupsLocked()
	if err != nil {
		return err
	}
	if len(groups) <= 1 {
		return fmt.Errorf("the last bookmark group cannot be deleted")
	}

	err = sqlitex.Execute(s.conn, `DELETE FROM bookmark_groups WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return err
	}
	if s.conn.Changes() == 0 {
		return fmt.Errorf("bookmark group %q does not exist", id)
	}
	return nil
}

// PutChat stores chat thread presence for a paragraph.
func (s *Store) PutChat(c annotations.ChatThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	return sqlitex.Execute(s.conn, `
INSERT INTO chat_threads (key, book_id, hash, messages, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	messages = excluded.messages,
	updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			ident.Key(c.BookID, c.Hash), c.BookID, c.Hash, c.Messages, c.UpdatedAt.Unix(),
		}})
}

// DeleteChat removes chat thread presence.
func (s *Store) DeleteChat(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `DELETE FROM chat_threads WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}})
}

// ChatsForBook returns chat thread presence for every paragraph of a book.
func (s *Store) ChatsForBook(bookID string) ([]annotations.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []annotations.ChatThread
	err := sqlitex.Execute(s.conn,
		`SELECT book_id, hash, messages, updated_at FROM chat_threads WHERE book_id = ? ORDER BY hash`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, annotations.ChatThread{
					BookID:    stmt.ColumnText(0),
					Hash:      stmt.ColumnText(1),
					Messages:  stmt.ColumnInt(2),
					UpdatedAt: time.Unix(stmt.ColumnInt64(3), 0),
				})
				return nil
			}})
	return out, err
}

// Snapshot collects everything the in-memory annotation store needs for one
// book.
func (s *Store) Snapshot(bookID string) (annotations.Snapshot, error) {
	var snap annotations.Snapshot
	var err error

	if snap.Translations, err = s.TranslationsForBook(bookID); err != nil {
		return snap, fmt.Errorf("load translations: %w", err)
	}
	if snap.Notes, err = s.NotesForBook(bookID); err != nil {
		return snap, fmt.Errorf("load notes: %w", err)
	}
	if snap.Bookmarks, err = s.BookmarksForBook(bookID); err != nil {
		return snap, fmt.Errorf("load bookmarks: %w", err)
	}
	if snap.Chats, err = s.ChatsForBook(bookID); err != nil {
		return snap, fmt.Errorf("load chat threads: %w", err)
	}
	if snap.Groups, err = s.Groups(); err != nil {
		return snap, fmt.Errorf("load bookmark groups: %w", err)
	}
	return snap, nil
}

// SetSetting stores a persistent key value setting.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
}

// Setting returns a stored setting, empty string when absent.
func (s *Store) Setting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := sqlitex.Execute(s.conn, `SELECT value FROM settings WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			}})
	return value, err
}
