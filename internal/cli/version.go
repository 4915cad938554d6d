package cli

import (
	"context"
	"fmt"
	goruntime "runtime"

	"github.com/cruciblehq/cruxbuild/internal"
)

// Represents the 'cruxbuild version' command.
type VersionCmd struct {
	Long bool `short:"l" help:"Show build details."`
}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	if !c.Long {
		fmt.Println(internal.VersionString())
		return nil
	}

	fmt.Printf("%s %s\n", internal.Name, internal.VersionString())
	fmt.Printf("  version: %s\n", internal.Version())
	fmt.Printf("  stage:   %s\n", internal.Stage())
	fmt.Printf("  commit:  %s\n", internal.GitCommit())
	fmt.Printf("  go:      %s %s/%s\n", goruntime.Version(), goruntime.GOOS, internal.Arch())
	return nil
}
