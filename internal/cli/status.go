package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxbuild/internal/server"
)

// Represents the 'cruxbuild status' command.
type StatusCmd struct {
	Socket string `short:"s" default:"${socket}" help:"Unix socket path of the daemon." placeholder:"PATH"`
}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	var st server.StatusResult
	if err := server.Call(ctx, c.Socket, server.CmdStatus, nil, &st); err != nil {
		return err
	}

	fmt.Printf("version: %s\npid:     %d\nuptime:  %s\nbuilds:  %d\ncached:  %d\n",
		st.Version, st.Pid, st.Uptime, st.Builds, st.Cached)
	return nil
}

// Represents the 'cruxbuild invalidate' command.
type InvalidateCmd struct {
	Socket string `short:"s" default:"${socket}" help:"Unix socket path of the daemon." placeholder:"PATH"`
}

// Executes the invalidate command.
func (c *InvalidateCmd) Run(ctx context.Context) error {
	var res server.InvalidateResult
	if err := server.Call(ctx, c.Socket, server.CmdInvalidate, nil, &res); err != nil {
		return err
	}

	fmt.Printf("dropped %d cache entries\n", res.Dropped)
	return nil
}
