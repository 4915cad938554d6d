package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/cruxbuild/internal"
	"github.com/cruciblehq/cruxbuild/internal/build"
	"github.com/cruciblehq/cruxbuild/internal/graph"
	"github.com/cruciblehq/cruxbuild/internal/image"
	"github.com/cruciblehq/cruxbuild/internal/paths"
	"github.com/cruciblehq/cruxbuild/internal/recipe"
)

// File name of the image archive written to the output directory.
const ImageFile = "image.tar"

// Handles a build command.
//
// Loads the recipe, runs it against the daemon's provider and cache, and
// writes the image archive when one is produced. Stage failures are
// reported in the result; only errors that prevent the build from starting
// produce an error response.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := DecodePayload[BuildRequest](payload)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	g, err := loadGraph(req.Recipe)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	res, err := s.engine(req.Recipe, req.WorkerLimit, req.Labels).Run(ctx, g)
	if res == nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	result := &BuildResult{Report: res.Report()}
	if err == nil && res.Image != nil && req.Output != "" {
		result.Image, err = WriteImage(res.Image, req.Output, req.Tag)
	}
	if err != nil {
		result.Error = err.Error()
		result.ExitCode = build.ExitCode(err)
	}

	s.respond(conn, CmdOK, result)
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	cached := 0
	if s.cfg.Cache != nil {
		cached = s.cfg.Cache.Len()
	}

	s.respond(conn, CmdOK, &StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
		Builds:  builds,
		Cached:  cached,
	})
}

// Handles an invalidate command.
func (s *Server) handleInvalidate(conn net.Conn) {
	if s.cfg.Cache == nil {
		s.respond(conn, CmdOK, &InvalidateResult{})
		return
	}

	dropped := s.cfg.Cache.Len()
	if err := s.cfg.Cache.Invalidate(); err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("fingerprint cache invalidated", "dropped", dropped)
	s.respond(conn, CmdOK, &InvalidateResult{Dropped: dropped})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}

// Loads a recipe file and builds its stage graph.
func loadGraph(path string) (*graph.Graph, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: recipe path %q must be absolute", ErrProtocol, path)
	}
	stages, err := recipe.Load(path)
	if err != nil {
		return nil, err
	}
	return graph.Build(stages)
}

// Writes img as an OCI layout archive named [ImageFile] in dir and returns
// its path.
func WriteImage(img *image.FinalImage, dir, tag string) (string, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", image.ErrImage, err)
	}

	p := filepath.Join(dir, ImageFile)
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", image.ErrImage, err)
	}

	if err := img.WriteArchive(f, tag); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", image.ErrImage, err)
	}
	return p, nil
}
