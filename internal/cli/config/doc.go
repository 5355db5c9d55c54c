// Package config holds the CLI's own settings: which node to query, where
// archives live and how to print results. Settings are read from a YAML
// file; command-line flags and LEDGERSNAP_CLI_* variables override them.
package config
