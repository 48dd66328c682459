package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/smelt/types"
)

// VersionCommand returns the version command. All components share a single
// version (lockstep versioning); it never touches the package source.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(*cli.Context) error {
			fmt.Printf("smelt %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
