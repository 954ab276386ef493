package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"inkwell/config"
	"inkwell/misc"
	"inkwell/reader"
	"inkwell/state"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		// save complete processed configuration if external configuration was provided
		if len(configFile) > 0 {
			// we do not want any of your secrets!
			if data, err := config.Dump(env.Cfg); err == nil {
				env.Rpt.StoreData(fmt.Sprintf("config/%s", filepath.Base(configFile)), data)
			}
		}
	}
	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()), zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()))

	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 && env.Log != nil {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	// close logging
	env.RestoreStdLog()

	// log is synced now and result can be used in report if necessary, errors
	// must be reported directly to stderr from now on
	if env.Rpt != nil {
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", er))
		}
	}
	// reporting is closed now - remove empty panic file if any
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Ignore urfave/cli default error handling - cli.Exit() is non-transparent,
// subcommands return regular errors instead.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {

	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// do nothing special, error is reported either by exitErrHandler or on
	// exit directly to stderr.
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	state.EnvFromContext(ctx).Log.Warn("Unknown command, nothing to do", zap.String("command", name))
}

func main() {

	// allow graceful shutdown on interrupt so open sessions can release
	// their temporary resources
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "command line companion for the paragraph-addressable EPUB reader",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
		},
		Commands: []*cli.Command{
			{
				Name:         "open",
				Usage:        "Opens an EPUB book, registers it in the library and prints its overview",
				OnUsageError: usageErrorHandler,
				Action:       reader.Run,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "force-zip-cp",
						Usage: "Force `ENCODING` for ALL non UTF-8 file names in processed archives (see IANA.org for character set names)"},
				},
				ArgsUsage: "BOOK",
				CustomHelpTemplate: fmt.Sprintf(`%s
BOOK:
    path to an EPUB file to open
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "export",
				Usage:        "Exports sanitized book sections as standalone XHTML files",
				OnUsageError: usageErrorHandler,
				Action:       reader.Export,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "continue even if destination exists, overwrite files"},
				},
				ArgsUsage: "BOOK [DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(`%s
BOOK:
    path to an EPUB file to export

DESTINATION:
    directory to write section files to, if absent - current working directory
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "translate",
				Usage:        "Translates a paragraph of a book through the configured endpoint",
				OnUsageError: usageErrorHandler,
				Action:       reader.Translate,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preceding", Usage: "`TEXT` flowing into the paragraph, used for translation context"},
					&cli.BoolFlag{Name: "retry", Usage: "drop the stored outcome and translate again"},
				},
				ArgsUsage: "BOOK TEXT...",
				CustomHelpTemplate: fmt.Sprintf(`%s
BOOK:
    path to an EPUB file the paragraph belongs to

TEXT:
    paragraph text to translate
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "books",
				Usage:        "Lists books in the library",
				OnUsageError: usageErrorHandler,
				Action:       reader.Books,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "by-title", Usage: "sort by title instead of last opened"},
				},
			},
			{
				Name:         "forget",
				Usage:        "Removes a book and all of its annotations from the library",
				OnUsageError: usageErrorHandler,
				Action:       reader.Delete,
				ArgsUsage:    "BOOK-ID",
			},
			{
				Name:         "progress",
				Usage:        "Shows the stored reading position of a book",
				OnUsageError: usageErrorHandler,
				Action:       reader.Progress,
				ArgsUsage:    "BOOK-ID",
			},
			{
				Name:         "notes",
				Usage:        "Lists or edits paragraph notes of a book",
				OnUsageError: usageErrorHandler,
				Action:       reader.Notes,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "set", Usage: "store a note for paragraph `HASH`"},
					&cli.StringFlag{Name: "text", Usage: "note content, used with --set"},
					&cli.StringFlag{Name: "delete", Usage: "delete the note for paragraph `HASH`"},
				},
				ArgsUsage: "BOOK-ID",
			},
			{
				Name:         "bookmarks",
				Usage:        "Lists or edits paragraph bookmarks of a book",
				OnUsageError: usageErrorHandler,
				Action:       reader.Bookmarks,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "set", Usage: "store a bookmark for paragraph `HASH`"},
					&cli.StringFlag{Name: "group", Usage: "color group `ID`, used with --set, default group when absent"},
					&cli.StringFlag{Name: "delete", Usage: "delete the bookmark for paragraph `HASH`"},
				},
				ArgsUsage: "BOOK-ID",
			},
			{
				Name:         "groups",
				Usage:        "Lists or edits bookmark color groups",
				OnUsageError: usageErrorHandler,
				Action:       reader.Groups,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "add", Usage: "create a group with `NAME`"},
					&cli.StringFlag{Name: "color", Usage: "group color, used with --add"},
					&cli.StringFlag{Name: "rename", Usage: "rename the group with `ID`, new name from --name"},
					&cli.StringFlag{Name: "name", Usage: "new group name, used with --rename"},
					&cli.StringFlag{Name: "delete", Usage: "delete the group with `ID` along with its bookmarks"},
				},
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values wich is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()

	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
