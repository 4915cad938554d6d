// Parses flags and runs the cruxbuild commands.
//
// The root command accepts the following flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//
// Subcommands:
//
//	build <recipe>  Run a recipe and write the final image.
//	serve           Run the build daemon on a Unix socket.
//	status          Query a running daemon.
//	invalidate      Drop the fingerprint cache of a running daemon.
//	version         Show version information.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity before
// the selected command runs.
package cli
