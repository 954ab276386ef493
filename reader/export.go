package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gosimple/slug"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"inkwell/config"
	"inkwell/epub"
	"inkwell/session"
	"inkwell/state"
)

// Export writes every readable section of a book as a standalone XHTML
// file. Section markup is exported exactly as the reading surface would
// see it: stylesheets stripped, indentation normalized, images pointing at
// materialized resources.
func Export(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("export")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no book has been specified")
	}
	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		var err error
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	env.Overwrite = cmd.Bool("overwrite")

	log.Info("Export starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Export completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	s, err := session.Open(ctx, nil, src)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("Unable to close book", zap.Error(err))
		}
	}()

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}

	for i, sec := range s.Sections {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := filepath.Join(dst, sectionFileName(s, sec, i, env))
		if !env.Overwrite {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("output file already exists: %s", out)
			}
		}
		if err := os.WriteFile(out, []byte(sec.Markup), 0644); err != nil {
			return fmt.Errorf("unable to write section %q: %w", sec.ID, err)
		}
		log.Debug("Section exported", zap.String("id", sec.ID), zap.String("file", out))
	}
	return nil
}

// sectionFileName builds the output name for one section, using the
// configured template when there is one and a stable index based default
// otherwise.
func sectionFileName(s *session.Session, sec *epub.Section, index int, env *state.LocalEnv) string {
	name := ""
	if tmpl := env.Cfg.Export.SectionNameTemplate; tmpl != "" {
		expanded, err := expandTemplate(s, sec, index, config.SectionNameTemplateFieldName, tmpl)
		if err != nil {
			env.Log.Warn("Unable to expand section name template", zap.Error(err))
		} else {
			name = expanded
		}
	}
	if name == "" {
		name = fmt.Sprintf("%03d-%s", index, sec.ID)
	}
	if env.Cfg.Export.FileNameTransliterate {
		name = slug.Make(name)
	}
	return config.CleanFileName(name) + ".xhtml"
}
