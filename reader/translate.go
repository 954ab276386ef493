package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"inkwell/session"
	"inkwell/state"
)

// Translate sends one paragraph of a book through the configured
// translation endpoint and prints the outcome. Outcomes are stored, the
// same paragraph is served from the library database on the next call
// unless --retry forces a fresh attempt.
func Translate(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("translate")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no book has been specified")
	}
	text := strings.TrimSpace(strings.Join(cmd.Args().Slice()[1:], " "))
	if len(text) == 0 {
		return errors.New("no paragraph text has been specified")
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

	s, err := session.Open(ctx, db, src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Warn("Unable to close book", zap.Error(cerr))
		}
	}()

	svc, err := s.Translator()
	if err != nil {
		return err
	}

	preceding := cmd.String("preceding")
	run := svc.Translate
	if cmd.Bool("retry") {
		run = svc.Retry
	}
	res, err := run(ctx, s.BookID, text, preceding)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("translation failed: %s", res.Error)
	}
	fmt.Fprintln(os.Stdout, res.TranslatedText)
	return nil
}
