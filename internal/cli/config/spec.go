package config

import (
	"fmt"

	"github.com/yndnr/ledgersnap/internal/cli/output"
)

// CLIConfig is the configuration of the ledgersnap CLI.
type CLIConfig struct {
	// Node is the admin HTTP address of the node to query.
	Node string `yaml:"node" json:"node"`

	// ArchivesDir is where archive commands look when --dir is not given.
	ArchivesDir string `yaml:"archives_dir" json:"archives_dir"`

	// Output is table, json or yaml.
	Output string `yaml:"output" json:"output"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Node:        "127.0.0.1:8899",
		ArchivesDir: "/var/lib/ledgersnap/archives",
		Output:      string(output.FormatTable),
	}
}

// Validate checks the configuration.
func (c *CLIConfig) Validate() error {
	if c.Node == "" {
		return fmt.Errorf("node address is required")
	}
	if _, err := output.ParseFormat(c.Output); err != nil {
		return err
	}
	return nil
}
