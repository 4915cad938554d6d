package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxbuild/internal"
	"github.com/cruciblehq/cruxbuild/internal/cli"
	"github.com/cruciblehq/cruxbuild/internal/logging"
)

// The entry point for cruxbuild.
//
// Initializes logging, displays startup information, and executes the root
// command. Exits with the number of failed stages (capped at 125) when a
// build fails, or 1 for any other error.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("cruxbuild is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	logging.Level.Set(internal.LogLevel())
	return logging.New(os.Stderr, logging.Options{
		Verbose: internal.IsVerbose(),
		Color:   logging.IsTerminal(os.Stderr),
	})
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
