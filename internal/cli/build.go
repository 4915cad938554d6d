package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cruciblehq/cruxbuild/internal"
	"github.com/cruciblehq/cruxbuild/internal/build"
	"github.com/cruciblehq/cruxbuild/internal/graph"
	"github.com/cruciblehq/cruxbuild/internal/recipe"
	"github.com/cruciblehq/cruxbuild/internal/server"
)

// Represents the 'cruxbuild build' command.
type BuildCmd struct {
	Recipe      string            `arg:"" help:"Recipe file (.yaml, .yml, .json or .toml)." type:"existingfile"`
	Tag         string            `short:"t" default:"cruxbuild:latest" help:"Reference recorded in the image archive."`
	WorkerLimit int               `short:"j" help:"Maximum number of stages running at once. Defaults to the number of CPUs."`
	Output      string            `short:"o" default:"." type:"path" help:"Directory the image archive is written to."`
	Report      string            `type:"path" help:"Write a JSON build report to this file." placeholder:"FILE"`
	Platform    string            `help:"Platform recorded in the image. Defaults to the host."`
	Label       map[string]string `help:"Label recorded in the image config." placeholder:"KEY=VALUE"`

	BackendFlags `embed:""`
	CacheFlags   `embed:""`
}

// Executes the build command.
//
// Stage failures still produce a report; the returned error carries the
// failed stages so the process can exit with their count.
func (c *BuildCmd) Run(ctx context.Context) error {
	recipePath, err := filepath.Abs(c.Recipe)
	if err != nil {
		return err
	}

	g, err := load(recipePath)
	if err != nil {
		return err
	}

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

	engine := build.New(build.Options{
		WorkerLimit: c.WorkerLimit,
		Provider:    provider,
		Cache:       fpCache,
		Scope:       recipePath,
		Platform:    c.Platform,
		Labels:      c.Label,
	})

	res, runErr := engine.Run(ctx, g)
	if res == nil {
		return runErr
	}

	if c.Report != "" {
		if err := writeReport(c.Report, res.Report()); err != nil {
			slog.Error("failed to write report", "path", c.Report, "error", err)
		}
	}

	if !internal.IsQuiet() {
		printSummary(os.Stdout, res)
	}

	if runErr != nil || res.Image == nil {
		return runErr
	}

	p, err := server.WriteImage(res.Image, c.Output, c.Tag)
	if err != nil {
		return err
	}
	slog.Info("image written",
		"path", p,
		"tag", c.Tag,
		"digest", res.Image.ManifestDigest,
		"size", humanize.Bytes(uint64(res.Image.Size())),
	)
	return nil
}

// Loads a recipe file and builds its stage graph.
func load(path string) (*graph.Graph, error) {
	stages, err := recipe.Load(path)
	if err != nil {
		return nil, err
	}
	return graph.Build(stages)
}

// Writes the JSON report to path.
func writeReport(path string, rep *build.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Prints one line per stage in topological order.
func printSummary(w io.Writer, res *build.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, r := range res.Ordered() {
		var size int64
		for _, a := range r.Artifacts {
			size += a.Size
		}

		note := ""
		switch {
		case r.Cached:
			note = "cached"
		case r.Err != nil:
			note = firstLine(r.Err.Error())
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Stage,
			r.Status,
			r.Duration().Round(time.Millisecond),
			artifactSummary(len(r.Artifacts), size),
			note,
		)
	}

	if res.Image != nil {
		fmt.Fprintf(tw, "image\t%s\t\t%s\t%d layers\n",
			res.Image.ManifestDigest.Encoded()[:12],
			humanize.Bytes(uint64(res.Image.Size())),
			len(res.Image.Layers),
		)
	}

	tw.Flush()
}

// Describes a stage's exported artifacts.
func artifactSummary(n int, size int64) string {
	if n == 0 {
		return "-"
	}
	if n == 1 {
		return "1 artifact, " + humanize.Bytes(uint64(size))
	}
	return fmt.Sprintf("%d artifacts, %s", n, humanize.Bytes(uint64(size)))
}

// Returns the first line of s.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
