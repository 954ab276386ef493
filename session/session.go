package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"inkwell/annotations"
	"inkwell/archive"
	"inkwell/config"
	"inkwell/epub"
	"inkwell/position"
	"inkwell/state"
	"inkwell/storage"
	"inkwell/translate"
)

// Session is one open book: the source archive, its parsed package,
// sanitized sections, materialized resources and the in-memory annotation
// state. Everything a reading surface needs and nothing it should build
// itself.
type Session struct {
	BookID   string
	Path     string
	Package  *epub.Package
	Sections []*epub.Section
	Mem      *annotations.Store

	container *archive.Container
	bag       *epub.ResourceBag
	loader    *epub.Loader
	db        *storage.Store
	cfg       *config.Config
	log       *zap.Logger
}

// Open opens a book end to end: archive, package metadata, every spine
// section in order, the library registry entry and the stored annotation
// state. A section that fails to load is logged and skipped, its spine
// neighbors are unaffected. The caller owns the session and must Close it.
func Open(ctx context.Context, db *storage.Store, path string) (*Session, error) {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("session")

	c, err := archive.Open(path, env.CodePage)
	if err != nil {
		return nil, fmt.Errorf("unable to open book %q: %w", path, err)
	}

	s := &Session{
		Path:      path,
		Mem:       annotations.NewStore(env.Log),
		container: c,
		db:        db,
		cfg:       env.Cfg,
		log:       log,
	}
	if err := s.load(ctx, env); err != nil {
		multierr.AppendInto(&err, s.Close())
		return nil, err
	}
	return s, nil
}

func (s *Session) load(ctx context.Context, env *state.LocalEnv) error {
	pkg, err := epub.ParsePackage(s.container, s.log)
	if err != nil {
		return err
	}
	s.Package = pkg
	s.BookID = bookID(pkg, s.Path)

	bag, err := epub.NewResourceBag(env.Cfg.Library.CacheDir, s.log)
	if err != nil {
		return err
	}
	s.bag = bag

	s.loader = epub.NewLoader(s.container, pkg, bag, epub.LoaderConfig{
		KeepUnresolvedImages:  env.Cfg.Reader.KeepUnresolvedImages,
		DetectVerticalWriting: env.Cfg.Reader.DetectVerticalWriting,
	}, s.log)

	var report strings.Builder
	s.Sections = s.Sections[:0]
	for i := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return err
		}
		sec, err := s.loader.Load(ctx, i)
		if err != nil {
			s.log.Warn("Skipping unreadable section",
				zap.Int("index", i), zap.String("path", pkg.Spine[i].Path), zap.Error(err))
			fmt.Fprintf(&report, "%3d\t%s\t%s\tFAILED: %v\n", i, pkg.Spine[i].ID, pkg.Spine[i].Path, err)
			continue
		}
		fmt.Fprintf(&report, "%3d\t%s\t%s\tok\n", i, sec.ID, sec.Path)
		s.Sections = append(s.Sections, sec)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("book %q has no readable sections", s.Path)
	}
	env.Rpt.StoreData(fmt.Sprintf("session/%s-spine.txt", filepath.Base(s.Path)), []byte(report.String()))

	if s.db != nil {
		if err := s.register(env); err != nil {
			return err
		}
		snap, err := s.db.Snapshot(s.BookID)
		if err != nil {
			return err
		}
		s.Mem.Load(snap)
	}

	s.log.Info("Book opened",
		zap.String("id", s.BookID),
		zap.String("title", pkg.Metadata.Title),
		zap.Int("sections", len(s.Sections)))
	return nil
}

func (s *Session) register(env *state.LocalEnv) error {
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		abs = s.Path
	}
	book := storage.Book{
		ID:         s.BookID,
		Path:       abs,
		Title:      s.Package.Metadata.Title,
		Authors:    s.Package.Metadata.Authors,
		Language:   s.Package.Metadata.Language.String(),
		Identifier: s.Package.Metadata.Identifier,
		SpineCount: len(s.Package.Spine),
	}
	if err := s.db.UpsertBook(book); err != nil {
		return fmt.Errorf("unable to register book: %w", err)
	}

	if env.Cfg.Thumbnail.Generate {
		if thumb, err := s.db.Thumbnail(s.BookID); err == nil && len(thumb) == 0 {
			data, err := epub.CoverThumbnail(s.container, s.Package, env.Cfg.Thumbnail, s.log)
			if err != nil {
				s.log.Warn("Unable to generate cover thumbnail", zap.Error(err))
			} else if len(data) > 0 {
				if err := s.db.SaveThumbnail(s.BookID, data); err != nil {
					s.log.Warn("Unable to store cover thumbnail", zap.Error(err))
				}
			}
		}
	}
	return s.db.TouchBook(s.BookID)
}

// Tracker creates a position tracker for this book bound to the given
// rendering surface. Debounce windows and the restore margin come from
// the reader configuration, confirmed positions go to the library
// database when one is attached.
func (s *Session) Tracker(vp position.Viewport) *position.Tracker {
	var saver position.Saver
	if s.db != nil {
		saver = s.db
	}
	return position.NewTracker(vp, s.BookID, saver, position.Options{
		ScrollDebounce: time.Duration(s.cfg.Reader.ScrollDebounceMs) * time.Millisecond,
		SaveDebounce:   time.Duration(s.cfg.Reader.SaveDebounceMs) * time.Millisecond,
		RestoreMargin:  s.cfg.Reader.RestoreMarginPx,
	}, s.log)
}

// Translator builds the paragraph translation service for this book from
// the translation configuration. Source language is the book's own, the
// sentence splitter follows it as well.
func (s *Session) Translator() (*translate.Service, error) {
	tc := s.cfg.Translation
	if !tc.Enable {
		return nil, errors.New("translation is not enabled in configuration")
	}
	tr := translate.NewHTTPTranslator(tc.Endpoint, tc.APIKey.Value(), nil)
	splitter := translate.NewSplitter(s.Package.Metadata.Language, s.log)
	return translate.NewService(tr, s.Mem, s.db, splitter, tc.ContextSentences,
		s.Package.Metadata.Language.String(), tc.TargetLanguage, s.log), nil
}

// Section returns a loaded section by its position among the readable
// sections.
func (s *Session) Section(index int) (*epub.Section, error) {
	if index < 0 || index >= len(s.Sections) {
		return nil, fmt.Errorf("section index %d out of range", index)
	}
	return s.Sections[index], nil
}

// Reload drops and rebuilds the session's sections and resources from the
// archive on disk. Used when the book file changed under an open session.
// Annotation state is kept, content hashes tie it to whatever paragraphs
// survived the change.
func (s *Session) Reload(ctx context.Context) error {
	env := state.EnvFromContext(ctx)

	if s.bag != nil {
		if err := s.bag.Release(); err != nil {
			s.log.Warn("Unable to release session resources", zap.Error(err))
		}
	}
	if s.container != nil {
		if err := s.container.Close(); err != nil {
			s.log.Warn("Unable to close book archive", zap.Error(err))
		}
	}

	c, err := archive.Open(s.Path, env.CodePage)
	if err != nil {
		return fmt.Errorf("unable to reopen book %q: %w", s.Path, err)
	}
	s.container = c
	return s.load(ctx, env)
}

// Close releases everything the session holds. Safe to call more than
// once.
func (s *Session) Close() error {
	var err error
	if s.bag != nil {
		err = multierr.Append(err, s.bag.Release())
		s.bag = nil
	}
	if s.container != nil {
		err = multierr.Append(err, s.container.Close())
		s.container = nil
	}
	s.Mem.Reset()
	return err
}

// bookID derives a stable book identity: the package identifier when the
// publisher supplied one, a name-based UUID of the absolute path
// otherwise.
func bookID(pkg *epub.Package, path string) string {
	if id := pkg.Metadata.Identifier; id != "" {
		return id
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
}
