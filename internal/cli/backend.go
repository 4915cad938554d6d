package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cruciblehq/cruxbuild/internal/cache"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/env/local"
	"github.com/cruciblehq/cruxbuild/internal/paths"
	"github.com/cruciblehq/cruxbuild/internal/runtime"
)

const (
	backendLocal      = "local"
	backendContainerd = "containerd"
)

// Flags selecting and configuring the environment backend.
type BackendFlags struct {
	Backend             string            `enum:"local,containerd" default:"local" help:"Environment backend (${enum})."`
	Base                map[string]string `help:"Seed directory for a base reference, local backend only." placeholder:"ID=DIR"`
	Keep                bool              `help:"Keep local stage roots after the build."`
	ContainerdAddress   string            `default:"${containerd_address}" help:"Containerd socket address." placeholder:"PATH"`
	ContainerdNamespace string            `default:"${containerd_namespace}" help:"Containerd namespace for images and containers."`
}

// Creates the selected environment provider.
//
// The returned function releases the provider and must always be called.
func (f *BackendFlags) provider() (env.Provider, func(), error) {
	switch f.Backend {
	case backendContainerd:
		rt, err := runtime.New(f.ContainerdAddress, f.ContainerdNamespace)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("using containerd backend", "address", f.ContainerdAddress, "namespace", f.ContainerdNamespace)
		return rt, func() { rt.Close() }, nil

	case backendLocal, "":
		bases := make(map[string]string, len(f.Base))
		for id, dir := range f.Base {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return nil, nil, fmt.Errorf("base %s: %w", id, err)
			}
			bases[id] = abs
		}

		p := local.New(paths.Scratch(), bases)
		if f.Keep {
			p.Keep()
		}
		slog.Debug("using local backend", "scratch", paths.Scratch(), "bases", len(bases))
		return p, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", f.Backend)
	}
}

// Flags controlling the fingerprint cache.
type CacheFlags struct {
	CacheDir string `help:"Directory of the persistent fingerprint cache." type:"path" placeholder:"DIR"`
	NoCache  bool   `help:"Run every stage, ignoring and not recording fingerprints."`
}

// Opens the fingerprint cache, or returns nil when caching is disabled.
func (f *CacheFlags) open() (*cache.Cache, error) {
	if f.NoCache {
		return nil, nil
	}

	file := paths.CacheFile()
	if f.CacheDir != "" {
		file = paths.CacheFileIn(f.CacheDir)
	}

	c, err := cache.Open(file)
	if err != nil {
		return nil, err
	}
	slog.Debug("fingerprint cache opened", "path", file, "entries", c.Len())
	return c, nil
}
