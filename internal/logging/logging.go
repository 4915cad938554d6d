package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level shared by every logger created by [New].
var Level = new(slog.LevelVar)

const (
	timeFormat        = time.TimeOnly
	verboseTimeFormat = "15:04:05.000"
)

// Controls logger output.
type Options struct {
	Verbose bool         // Adds source locations and millisecond timestamps.
	Color   bool         // Emits ANSI colours.
	Level   slog.Leveler // Overrides [Level] when set.
}

// Creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	level := opts.Level
	if level == nil {
		level = Level
	}

	format := timeFormat
	if opts.Verbose {
		format = verboseTimeFormat
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		AddSource:  opts.Verbose,
		Level:      level,
		TimeFormat: format,
		NoColor:    !opts.Color,
	}))
}

// Whether the given file is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
