package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/cruxbuild/internal"
	"github.com/cruciblehq/cruxbuild/internal/build"
	"github.com/cruciblehq/cruxbuild/internal/logging"
	"github.com/cruciblehq/cruxbuild/internal/paths"
	"github.com/cruciblehq/cruxbuild/internal/runtime"
)

// Represents the root command for cruxbuild.
var RootCmd struct {
	Quiet      bool          `short:"q" help:"Suppress informational output."`
	Verbose    bool          `short:"v" help:"Enable verbose output."`
	Debug      bool          `short:"d" help:"Enable debug output."`
	Build      BuildCmd      `cmd:"" help:"Run a recipe and write the final image."`
	Serve      ServeCmd      `cmd:"" help:"Run the build daemon."`
	Status     StatusCmd     `cmd:"" help:"Show the status of a running daemon."`
	Invalidate InvalidateCmd `cmd:"" help:"Drop the fingerprint cache of a running daemon."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`
}

// Returns the kong options shared by every parser of the root command.
func options(ctx context.Context) []kong.Option {
	return []kong.Option{
		kong.Name(internal.Name),
		kong.Description("Multi-stage build orchestrator.\n\nRuns the stages of a recipe in dependency order and assembles a minimal OCI image from the final stage."),
		kong.UsageOnError(),
		kong.Vars{
			"version":              internal.VersionString(),
			"containerd_address":   runtime.DefaultAddress,
			"containerd_namespace": runtime.DefaultNamespace,
			"socket":               paths.Socket(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	}
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd, options(ctx)...)

	configureLogger()

	return kongCtx.Run()
}

// Returns the process exit code for the error returned by [Execute].
func ExitCode(err error) int {
	return build.ExitCode(err)
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	logging.Level.Set(internal.LogLevel())

	logger := logging.New(os.Stderr, logging.Options{
		Verbose: internal.IsVerbose(),
		Color:   logging.IsTerminal(os.Stderr),
	})
	slog.SetDefault(logger)
}
