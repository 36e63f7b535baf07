// Package cmd provides the CLI commands for packfs.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/config"
	"github.com/fclairamb/packfs/internal/definition"
	"github.com/fclairamb/packfs/internal/metrics"
	"github.com/fclairamb/packfs/internal/security"
	"github.com/fclairamb/packfs/internal/storage"
	"github.com/fclairamb/packfs/internal/storage/archive"
	"github.com/fclairamb/packfs/internal/storage/local"
	"github.com/fclairamb/packfs/internal/version"
)

const (
	// Permissions of archives written by edit.
	archivePerm = 0600

	defaultCommitMessage = "extract archive"
)

var (
	// konfig is the global koanf instance.
	konfig = koanf.New(".")
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// setupLogging configures the global logger based on the verbose flag and PACKFS_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format := strings.ToLower(konfig.String(config.KeyLogFormat))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	// Warn about invalid format after logger is set up
	if format != "" && format != config.LogFormatText && format != config.LogFormatJSON {
		slog.Warn("Invalid PACKFS_LOG_FORMAT value, using text format", "value", format)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// beforeCommand is the Before hook shared by every subcommand.
func beforeCommand(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	setupLogging(cmd)
	return ctx, nil
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "packfs",
		Usage:   "Inspect, validate and edit packs stored as ZIP archives or folders",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Dump Prometheus metrics to stderr on exit",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			// Load environment variables with PACKFS_ prefix
			if err := config.LoadEnv(konfig); err != nil {
				return ctx, err
			}

			return ctx, nil
		},
		After: func(_ context.Context, cmd *cli.Command) error {
			if !cmd.Bool("metrics") {
				return nil
			}
			return metrics.WriteText(os.Stderr)
		},
		Commands: []*cli.Command{
			lsCommand(),
			catCommand(),
			validateCommand(),
			hashCommand(),
			editCommand(),
			extractCommand(),
			versionCommand(),
		},
	}
}

// lsCommand creates the ls subcommand.
func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the files of an archive",
		ArgsUsage: "<archive> [folder]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "tree",
				Aliases: []string{"t"},
				Usage:   "Display as tree structure",
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("%w: <archive>", apperrors.ErrArgsRequired)
			}

			pack, err := openArchive(ctx, cmd.Args().Get(0))
			if err != nil {
				return err
			}

			folder := pack.Root()
			if sub := cmd.Args().Get(1); sub != "" {
				if folder, err = pack.Root().FolderFromPath(sub); err != nil {
					return err
				}
			}

			out := cmd.Root().Writer
			if cmd.Bool("tree") {
				printFolderTree(out, folder)
				return nil
			}

			printFileList(out, folder)
			return nil
		},
	}
}

// catCommand creates the cat subcommand.
func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print the content of a file inside an archive",
		ArgsUsage: "<archive> <path>",
		Flags:     []cli.Flag{verboseFlag},
		Before:    beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 { //nolint:mnd // archive and path
				return fmt.Errorf("%w: <archive> <path>", apperrors.ErrArgsRequired)
			}

			pack, err := openArchive(ctx, cmd.Args().Get(0))
			if err != nil {
				return err
			}

			file, err := pack.Root().FileFromPath(cmd.Args().Get(1))
			if err != nil {
				return err
			}
			if _, err := file.LoadContent(ctx, false); err != nil {
				return fmt.Errorf("load %s: %w", file.Path(), err)
			}
			if !file.HasContent() {
				return fmt.Errorf("%s: %w", file.Path(), apperrors.ErrNoContent)
			}

			_, err = cmd.Root().Writer.Write(file.Content())
			return err
		},
	}
}

// validateCommand creates the validate subcommand.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check archives against the path rules and resource limits",
		ArgsUsage: "<archive>...",
		Flags:     []cli.Flag{verboseFlag},
		Before:    beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("%w: <archive>", apperrors.ErrArgsRequired)
			}

			cfg, err := config.FromKoanf(konfig)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			failed := 0
			for _, path := range cmd.Args().Slice() {
				data, err := os.ReadFile(path) //nolint:gosec // user-supplied archive path
				if err != nil {
					return fmt.Errorf("read archive: %w", err)
				}

				pack := archive.New(data, archive.WithLimits(cfg.Limits()), archive.WithLogger(slog.Default()))
				loadErr := pack.Load(ctx)
				if loadErr != nil {
					failed++
				}
				displayValidation(cmd.Root().Writer, path, int64(len(data)), pack, loadErr)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d archives: %w", failed, cmd.Args().Len(), apperrors.ErrUnprocessable)
			}
			return nil
		},
	}
}

// hashCommand creates the hash subcommand.
func hashCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "Print the content hash of files inside an archive",
		ArgsUsage: "<archive> [path]...",
		Flags:     []cli.Flag{verboseFlag},
		Before:    beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("%w: <archive>", apperrors.ErrArgsRequired)
			}

			pack, err := openArchive(ctx, cmd.Args().Get(0))
			if err != nil {
				return err
			}

			var files []*storage.File
			if paths := cmd.Args().Tail(); len(paths) > 0 {
				for _, p := range paths {
					file, err := pack.Root().FileFromPath(p)
					if err != nil {
						return err
					}
					files = append(files, file)
				}
			} else {
				_ = pack.Walk(func(file *storage.File) error {
					files = append(files, file)
					return nil
				})
			}

			for _, file := range files {
				sum, err := file.Hash(ctx)
				if err != nil {
					return fmt.Errorf("hash %s: %w", file.Path(), err)
				}
				printHash(cmd.Root().Writer, sum, file.Path())
			}
			return nil
		},
	}
}

// editCommand creates the edit subcommand.
func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Set keys of a JSON file inside an archive and write the archive back",
		ArgsUsage: "<archive> <path>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "set",
				Usage:    "Dotted key and value to set (e.g., header.version=2)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output archive (defaults to overwriting the input)",
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 { //nolint:mnd // archive and path
				return fmt.Errorf("%w: <archive> <path>", apperrors.ErrArgsRequired)
			}

			input := cmd.Args().Get(0)
			output := cmd.String("output")
			if output == "" {
				output = input
			}

			pack, err := openArchive(ctx, input)
			if err != nil {
				return err
			}

			file, err := pack.Root().EnsureFileFromPath(cmd.Args().Get(1))
			if err != nil {
				return err
			}

			changed, err := editJSON(ctx, file, cmd.StringSlice("set"))
			if err != nil {
				return err
			}
			if !changed {
				slog.InfoContext(ctx, "no change", "path", file.Path())
			}

			data, err := pack.GenerateBytes(ctx)
			if err != nil {
				return fmt.Errorf("generate archive: %w", err)
			}
			if err := os.WriteFile(output, data, archivePerm); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}

			slog.InfoContext(ctx, "archive written", "path", output, "size", formatBytes(int64(len(data))))
			return nil
		},
	}
}

// editJSON applies key=value assignments through the file's JSON manager and
// reports whether the file content changed.
func editJSON(ctx context.Context, file *storage.File, assignments []string) (bool, error) {
	doc, err := definition.Ensure(ctx, file, definition.NewJSON[map[string]any], nil)
	if err != nil {
		return false, err
	}

	var setErr error
	if err := doc.Update(func(value *map[string]any) {
		if *value == nil {
			*value = map[string]any{}
		}
		for _, assignment := range assignments {
			key, raw, found := strings.Cut(assignment, "=")
			if !found {
				setErr = fmt.Errorf("%w: %q is not key=value", apperrors.ErrInvalidKeyPath, assignment)
				return
			}
			if setErr = definition.SetKey(*value, key, definition.ParseValue(raw)); setErr != nil {
				return
			}
		}
	}); err != nil {
		return false, err
	}
	if setErr != nil {
		return false, setErr
	}

	if err := doc.Persist(ctx); err != nil {
		return false, fmt.Errorf("persist %s: %w", file.Path(), err)
	}
	return file.NeedsSave(), nil
}

// extractCommand creates the extract subcommand.
func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract an archive into a folder",
		ArgsUsage: "<archive> <dir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "commit",
				Usage: "Commit the extracted files to a git repository in the folder",
			},
			&cli.StringFlag{
				Name:    "message",
				Aliases: []string{"m"},
				Usage:   "Commit message",
				Value:   defaultCommitMessage,
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 { //nolint:mnd // archive and dir
				return fmt.Errorf("%w: <archive> <dir>", apperrors.ErrArgsRequired)
			}

			cfg, err := config.FromKoanf(konfig)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			pack, err := openArchive(ctx, cmd.Args().Get(0))
			if err != nil {
				return err
			}

			writeRate, burst := cfg.WriteLimit()
			opts := []local.Option{
				local.WithLogger(slog.Default()),
				local.WithStorageOptions(storage.WithWriteLimit(writeRate, burst)),
			}
			if cmd.Bool("commit") {
				opts = append(opts, local.WithGit(cfg.GitAuthor()))
			}

			dest, err := local.New(cmd.Args().Get(1), opts...)
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}

			written, err := extract(ctx, pack, dest)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "extracted", "files", written, "dir", dest.RootPath())

			if !cmd.Bool("commit") {
				return nil
			}
			committed, err := dest.Commit(ctx, cmd.String("message"))
			if err != nil {
				return err
			}
			if !committed {
				slog.InfoContext(ctx, "nothing to commit")
			}
			return nil
		},
	}
}

// extract copies every file of src into dest and returns how many files
// were written.
func extract(ctx context.Context, src *archive.Storage, dest *local.Storage) (int, error) {
	err := src.Walk(func(file *storage.File) error {
		if _, err := file.LoadContent(ctx, false); err != nil {
			return fmt.Errorf("load %s: %w", file.Path(), err)
		}
		if !file.HasContent() {
			return nil
		}

		target, err := dest.Root().EnsureFileFromPath(security.SanitizePath(file.RelativePath()))
		if err != nil {
			return err
		}
		_, err = target.SetContent(ctx, file.Content(), storage.UpdateEdit)
		return err
	})
	if err != nil {
		return 0, err
	}

	written, err := dest.SaveAll(ctx)
	if err != nil {
		return written, fmt.Errorf("save files: %w", err)
	}
	return written, nil
}

// versionCommand creates the version subcommand.
func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			displayVersion(cmd.Root().Writer)
			return nil
		},
	}
}

// openArchive reads and loads an archive with the configured limits.
func openArchive(ctx context.Context, path string) (*archive.Storage, error) {
	cfg, err := config.FromKoanf(konfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := security.CheckInputSize(info.Size(), cfg.Limits()); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied archive path
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	pack := archive.New(data, archive.WithLimits(cfg.Limits()), archive.WithLogger(slog.Default()))
	if err := pack.Load(ctx); err != nil {
		return nil, fmt.Errorf("load archive %s: %w", path, err)
	}
	return pack, nil
}
