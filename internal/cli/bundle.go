package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/vcs"
	"github.com/roach88/sdd/internal/workspace"
)

// EnvBundlePath names the environment variable holding the default bundle
// directory.
const EnvBundlePath = "SDD_BUNDLE_PATH"

// splitBundle separates the bundle directory from the remaining arguments.
//
// With fixed >= 0 the command takes fixed arguments after the optional
// bundle, so one extra argument is the bundle. With fixed < 0 the trailing
// arguments are variadic and the first one is the bundle only when it
// names a directory. Otherwise $SDD_BUNDLE_PATH is used.
func splitBundle(args []string, fixed int) (string, []string, error) {
	switch {
	case fixed >= 0 && len(args) > fixed:
		return args[0], args[1:], nil
	case fixed < 0 && len(args) > 0 && isDir(args[0]):
		return args[0], args[1:], nil
	}
	if env := os.Getenv(EnvBundlePath); env != "" {
		return env, args, nil
	}
	return "", nil, NewExitError(ExitCommandError, "no bundle directory given and "+EnvBundlePath+" is not set")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// newFormatter builds the formatter for cmd's writers.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// newLogger logs to w: warnings only, or everything with --verbose. JSON
// output gets JSON logs.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openWorkspace opens the bundle at path with git as version control.
// Failures are reported through f and returned as an ExitError.
func openWorkspace(ctx context.Context, f *OutputFormatter, logger *slog.Logger, path string, opts ...workspace.Option) (*workspace.Workspace, []ir.Diagnostic, error) {
	f.VerboseLog("Opening bundle %s", path)
	opts = append([]workspace.Option{
		workspace.WithVCS(&vcs.Git{}),
		workspace.WithLogger(logger),
	}, opts...)
	ws, diags, err := workspace.Open(ctx, path, opts...)
	if err != nil {
		return nil, nil, f.Fail("failed to open bundle", err)
	}
	return ws, diags, nil
}
