package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	programName = "cruxbuild"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for cached data.
//
//	Linux:   $XDG_CACHE_HOME/cruxbuild or ~/.cache/cruxbuild
//	macOS:   ~/Library/Caches/cruxbuild
func Cache() string {
	return filepath.Join(xdg.CacheHome, programName)
}

// Path to the directory holding per-stage roots of the local backend.
func Scratch() string {
	return filepath.Join(Cache(), "stages")
}

// Default path to the persistent fingerprint cache.
func CacheFile() string {
	return CacheFileIn(Cache())
}

// Path to the fingerprint cache file inside dir.
func CacheFileIn(dir string) string {
	return filepath.Join(dir, "fingerprints.db")
}

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxbuild or /run/user/<uid>/cruxbuild
//	macOS:   ~/Library/Caches/cruxbuild/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, programName)
	}
	return filepath.Join(Cache(), "run")
}

// Default path to the Unix domain socket of the build daemon.
func Socket() string {
	return filepath.Join(Runtime(), programName+".sock")
}

// Default path to the PID file of the build daemon.
func PIDFile() string {
	return filepath.Join(Runtime(), programName+".pid")
}
