package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgersnap/internal/cli/output"
	"github.com/yndnr/ledgersnap/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			g, err := ParseGlobalFlags(c)
			if err != nil {
				return err
			}
			info := buildinfo.Get()
			if g.Output != output.FormatTable {
				return g.print(c, info)
			}
			fmt.Fprintf(stdout(c), "ledgersnap %s\n", buildinfo.String())
			fmt.Fprintf(stdout(c), "  go:               %s\n", info.GoVersion)
			fmt.Fprintf(stdout(c), "  snapshot version: %s\n", info.SnapshotVersion)
			return nil
		},
	}
}
