package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/cruxbuild/internal/server"
)

// Represents the 'cruxbuild serve' command.
type ServeCmd struct {
	Socket      string `short:"s" default:"${socket}" help:"Unix socket path." placeholder:"PATH"`
	WorkerLimit int    `short:"j" help:"Default maximum number of stages running at once."`
	Platform    string `help:"Platform recorded in images. Defaults to the host."`

	BackendFlags `embed:""`
	CacheFlags   `embed:""`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *ServeCmd) Run(ctx context.Context) error {
	provider, release, err := c.provider()
	if err != nil {
		return err
	}
	defer release()

	fpCache, err := c.open()
	if err != nil {
		return err
	}
	if fpCache != nil {
		defer fpCache.Close()
	}

	srv, err := server.New(server.Config{
		SocketPath:  c.Socket,
		Provider:    provider,
		Cache:       fpCache,
		WorkerLimit: c.WorkerLimit,
		Platform:    c.Platform,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("cruxbuild daemon is running", "backend", c.Backend)

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
