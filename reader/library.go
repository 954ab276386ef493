package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/maruel/natural"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"inkwell/annotations"
	"inkwell/ident"
	"inkwell/state"
)

// Books lists the library registry. Default order is most recently opened
// first, --by-title switches to natural title order.
func Books(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	books, err := db.Books()
	if err != nil {
		return err
	}
	if cmd.Bool("by-title") {
		sort.SliceStable(books, func(i, j int) bool { return natural.Less(books[i].Title, books[j].Title) })
	}

	for _, b := range books {
		fmt.Fprintf(os.Stdout, "%s  %-40s %s\n", b.ID, b.Title, strings.Join(b.Authors, ", "))
		fmt.Fprintf(os.Stdout, "%*s  opened %s, %d sections, %s\n",
			len(b.ID), "", b.OpenedAt.Format(time.DateOnly), b.SpineCount, b.Path)
	}
	if len(books) == 0 {
		fmt.Fprintln(os.Stdout, "Library is empty")
	}
	return nil
}

// Progress prints the stored reading position of a book.
func Progress(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	bookID := cmd.Args().Get(0)
	if bookID == "" {
		return errors.New("no book id has been specified")
	}

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	p, found, err := db.Progress(bookID)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(os.Stdout, "No stored position")
		return nil
	}
	fmt.Fprintf(os.Stdout, "Section:   %d\n", p.SectionIndex)
	fmt.Fprintf(os.Stdout, "Paragraph: %s\n", p.ParagraphHash)
	fmt.Fprintf(os.Stdout, "Offset:    %dpx (%.1f%%)\n", p.OffsetPx, p.Percent*100)
	fmt.Fprintf(os.Stdout, "Saved:     %s\n", p.UpdatedAt.Format(time.DateTime))
	return nil
}

// Notes lists, sets or deletes notes of a book.
func Notes(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("notes")

	bookID := cmd.Args().Get(0)
	if bookID == "" {
		return errors.New("no book id has been specified")
	}

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	if hash := cmd.String("set"); hash != "" {
		n := annotations.Note{BookID: bookID, Hash: hash, Content: cmd.String("text")}
		if err := db.PutNote(n); err != nil {
			return err
		}
		if strings.TrimSpace(n.Content) == "" {
			log.Info("Note removed, content is empty", zap.String("paragraph", hash))
		} else {
			log.Info("Note stored", zap.String("paragraph", hash))
		}
		return nil
	}
	if hash := cmd.String("delete"); hash != "" {
		if err := db.DeleteNote(ident.Key(bookID, hash)); err != nil {
			return err
		}
		log.Info("Note deleted", zap.String("paragraph", hash))
		return nil
	}

	notes, err := db.NotesForBook(bookID)
	if err != nil {
		return err
	}
	sort.SliceStable(notes, func(i, j int) bool { return natural.Less(notes[i].Hash, notes[j].Hash) })
	for _, n := range notes {
		fmt.Fprintf(os.Stdout, "%-10s %s  %s\n", n.Hash, n.UpdatedAt.Format(time.DateOnly), n.Content)
	}
	if len(notes) == 0 {
		fmt.Fprintln(os.Stdout, "No notes")
	}
	return nil
}

// Bookmarks lists, sets or deletes bookmarks of a book.
func Bookmarks(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("bookmarks")

	bookID := cmd.Args().Get(0)
	if bookID == "" {
		return errors.New("no book id has been specified")
	}

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	if hash := cmd.String("set"); hash != "" {
		group := cmd.String("group")
		if group == "" {
			groups, err := db.Groups()
			if err != nil {
				return err
			}
			group = groups[0].ID
		}
		b := annotations.Bookmark{BookID: bookID, Hash: hash, ColorGroupID: group}
		if err := db.PutBookmark(b); err != nil {
			return err
		}
		log.Info("Bookmark stored", zap.String("paragraph", hash), zap.String("group", group))
		return nil
	}
	if hash := cmd.String("delete"); hash != "" {
		if err := db.DeleteBookmark(ident.Key(bookID, hash)); err != nil {
			return err
		}
		log.Info("Bookmark deleted", zap.String("paragraph", hash))
		return nil
	}

	marks, err := db.BookmarksForBook(bookID)
	if err != nil {
		return err
	}
	groups, err := db.Groups()
	if err != nil {
		return err
	}
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}

	sort.SliceStable(marks, func(i, j int) bool { return natural.Less(marks[i].Hash, marks[j].Hash) })
	for _, b := range marks {
		fmt.Fprintf(os.Stdout, "%-10s %s  %s\n", b.Hash, b.UpdatedAt.Format(time.DateOnly), names[b.ColorGroupID])
	}
	if len(marks) == 0 {
		fmt.Fprintln(os.Stdout, "No bookmarks")
	}
	return nil
}

// Groups lists and manages bookmark color groups.
func Groups(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("groups")

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	if name := cmd.String("add"); name != "" {
		g, err := db.CreateGroup(name, cmd.String("color"))
		if err != nil {
			return err
		}
		log.Info("Group created", zap.String("id", g.ID), zap.String("name", g.Name))
		return nil
	}
	if id := cmd.String("delete"); id != "" {
		if err := db.DeleteGroup(id); err != nil {
			return err
		}
		log.Info("Group deleted", zap.String("id", id))
		return nil
	}
	if id := cmd.String("rename"); id != "" {
		groups, err := db.Groups()
		if err != nil {
			return err
		}
		for _, g := range groups {
			if g.ID == id {
				g.Name = cmd.String("name")
				if g.Name == "" {
					return errors.New("no new name has been specified")
				}
				return db.UpdateGroup(g)
			}
		}
		return fmt.Errorf("bookmark group %q does not exist", id)
	}

	groups, err := db.Groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Fprintf(os.Stdout, "%s  %-20s %s\n", g.ID, g.Name, g.Color)
	}
	return nil
}

// Delete removes a book and everything attached to it from the library.
// The book file itself is not touched.
func Delete(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("delete")

	bookID := cmd.Args().Get(0)
	if bookID == "" {
		return errors.New("no book id has been specified")
	}

	db, err := openDB(env)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, found, err := db.Book(bookID); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("book %q is not in the library", bookID)
	}
	if err := db.DeleteBook(bookID); err != nil {
		return err
	}
	log.Info("Book removed from library", zap.String("id", bookID))
	return nil
}
