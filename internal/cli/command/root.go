package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgersnap/internal/cli/config"
	"github.com/yndnr/ledgersnap/internal/cli/connection"
	"github.com/yndnr/ledgersnap/internal/cli/output"
	"github.com/yndnr/ledgersnap/internal/infra/buildinfo"
)

const cliConfigKey = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "ledgersnap",
		Usage:   "Inspect, verify and restore ledger snapshot archives",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ArchivesCommand(),
			RestoreCommand(),
			NodeCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: loadCLIConfig,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI configuration file",
			EnvVars: []string{"LEDGERSNAP_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "node",
			Aliases: []string{"n"},
			Usage:   "Node admin address (e.g., 127.0.0.1:8899)",
			EnvVars: []string{"LEDGERSNAP_CLI_NODE"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			EnvVars: []string{"LEDGERSNAP_CLI_OUTPUT"},
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Do not draw progress on stderr",
		},
	}
}

func loadCLIConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[cliConfigKey] = cfg
	return nil
}

// GlobalFlags are the global flags merged over the CLI configuration file.
type GlobalFlags struct {
	Node        string
	ArchivesDir string
	Output      output.Format
	Wide        bool
	Quiet       bool
}

// ParseGlobalFlags merges flags over the loaded CLI configuration.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg, ok := c.App.Metadata[cliConfigKey].(*config.CLIConfig)
	if !ok {
		cfg = config.Default()
	}

	g := &GlobalFlags{
		Node:        cfg.Node,
		ArchivesDir: cfg.ArchivesDir,
		Wide:        c.Bool("wide"),
		Quiet:       c.Bool("quiet"),
	}
	if v := c.String("node"); v != "" {
		g.Node = v
	}
	format := cfg.Output
	if v := c.String("output"); v != "" {
		format = v
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	g.Output = f
	return g, nil
}

// archivesDir resolves the --dir flag of archive commands.
func (g *GlobalFlags) archivesDir(c *cli.Context) string {
	if v := c.String("dir"); v != "" {
		return v
	}
	return g.ArchivesDir
}

func (g *GlobalFlags) client() *connection.HTTPClient {
	return connection.NewHTTPClient(g.Node)
}

// print writes data to the app's writer in the selected format.
func (g *GlobalFlags) print(c *cli.Context, data any) error {
	return output.NewFormatter(g.Output, g.Wide).Format(stdout(c), data)
}

// progressWriter is where spinners and progress bars go. It is nil when
// progress is suppressed.
func (g *GlobalFlags) progressWriter(c *cli.Context) io.Writer {
	if g.Quiet {
		return nil
	}
	return stderr(c)
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
