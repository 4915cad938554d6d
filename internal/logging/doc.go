// Builds the process-wide structured logger.
//
// Records are written through [log/slog] with a tint handler: compact,
// human-oriented lines, coloured only when the destination is a terminal.
// A single [Level] variable backs every logger created here, so the level
// can be raised or lowered after flag parsing without rebuilding handlers.
//
// Example usage:
//
//	logging.Level.Set(slog.LevelDebug)
//	slog.SetDefault(logging.New(os.Stderr, logging.Options{
//	    Verbose: true,
//	    Color:   logging.IsTerminal(os.Stderr),
//	}))
package logging
