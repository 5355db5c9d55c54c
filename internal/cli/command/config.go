package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgersnap/internal/cli/config"
	"github.com/yndnr/ledgersnap/internal/cli/output"
	"github.com/yndnr/ledgersnap/internal/infra/confloader"
	nodeconfig "github.com/yndnr/ledgersnap/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "cli",
				Usage: "CLI local configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective CLI configuration",
						Action: configCLIShow,
					},
					{
						Name:  "init",
						Usage: "Write the CLI configuration file",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
						Action: configCLIInit,
					},
				},
			},
			{
				Name:      "node",
				Usage:     "Load a node configuration file and environment, validate it and print it",
				ArgsUsage: "[FILE]",
				Action:    configNodeCheck,
			},
		},
	}
}

func configCLIShow(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	return g.print(c, &config.CLIConfig{
		Node:        g.Node,
		ArchivesDir: g.ArchivesDir,
		Output:      string(g.Output),
	})
}

func configCLIInit(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	cfg := &config.CLIConfig{Node: g.Node, ArchivesDir: g.ArchivesDir, Output: string(g.Output)}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Wrote %s\n", path)
	return nil
}

// configNodeCheck loads a node configuration the way the node does, checks
// it and prints it with secrets masked.
func configNodeCheck(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}

	var opts []confloader.Option
	if path := c.Args().First(); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	cfg := nodeconfig.Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return err
	}
	if err := nodeconfig.ResolvePaths(cfg); err != nil {
		return err
	}
	if err := nodeconfig.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// Nested sections do not fit a table.
	if g.Output == output.FormatTable {
		g.Output = output.FormatYAML
	}
	return g.print(c, nodeconfig.Sanitize(cfg))
}
