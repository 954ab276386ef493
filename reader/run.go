package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"inkwell/session"
	"inkwell/state"
	"inkwell/storage"
)

func openDB(env *state.LocalEnv) (*storage.Store, error) {
	return storage.Open(env.Cfg.Library.DatabasePath, env.Cfg.Reader.MaxBookmarkGroups, env.Log)
}

// Run opens a book, registers it in the library and prints an overview:
// metadata, readable sections and the stored reading position. This is the
// command line probe for everything a reading surface would get from the
// session.
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("open")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no book has been specified")
	}

	// Since zip "standard" does not define file name encoding we may need to
	// force archaic code page for old archives
	cp := cmd.String("force-zip-cp")
	if len(cp) > 0 {
		env.CodePage, err = ianaindex.IANA.Encoding(cp)
		if err != nil {
			log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
			env.CodePage = nil
		} else {
			n, _ := ianaindex.IANA.Name(env.CodePage)
			log.Debug("Forcefully converting all non UTF-8 file names in archives", zap.String("charset", n))
		}
	}

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("Unable to close database", zap.Error(cerr))
		}
	}()

	log.Info("Opening book", zap.String("source", src))
	defer func(start time.Time) {
		log.Info("Done", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	s, err := session.Open(ctx, db, src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Warn("Unable to close book", zap.Error(cerr))
		}
	}()

	printOverview(s, db)
	return nil
}

func printOverview(s *session.Session, db *storage.Store) {
	meta := s.Package.Metadata

	fmt.Fprintf(os.Stdout, "Title:     %s\n", meta.Title)
	for _, a := range meta.Authors {
		fmt.Fprintf(os.Stdout, "Author:    %s\n", a)
	}
	fmt.Fprintf(os.Stdout, "Language:  %s\n", meta.Language)
	fmt.Fprintf(os.Stdout, "Book ID:   %s\n", s.BookID)
	fmt.Fprintf(os.Stdout, "Sections:  %d readable of %d in spine\n", len(s.Sections), len(s.Package.Spine))

	for i, sec := range s.Sections {
		flow := ""
		if sec.Vertical {
			flow = " [vertical]"
		}
		fmt.Fprintf(os.Stdout, "  %3d  %-20s %s%s\n", i, sec.ID, sec.Path, flow)
	}

	if p, found, err := db.Progress(s.BookID); err == nil && found {
		fmt.Fprintf(os.Stdout, "Position:  section %d", p.SectionIndex)
		if p.ParagraphHash != "" {
			fmt.Fprintf(os.Stdout, ", paragraph %s", p.ParagraphHash)
		}
		fmt.Fprintf(os.Stdout, " (%.1f%%, saved %s)\n", p.Percent*100, p.UpdatedAt.Format(time.DateTime))
	}

	notes := s.Mem.NotesForBook(s.BookID)
	marks := s.Mem.BookmarksForBook(s.BookID)
	if len(notes) > 0 || len(marks) > 0 {
		fmt.Fprintf(os.Stdout, "Annotations: %d notes, %d bookmarks\n", len(notes), len(marks))
	}
}
