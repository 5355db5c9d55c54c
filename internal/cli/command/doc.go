// Package command defines the ledgersnap CLI using urfave/cli/v2.
//
// Commands fall in two groups. Archive commands (archives, restore) work on
// a local archives directory and need no running node. Node commands query
// a node's admin HTTP endpoint. Results are printed as a table, JSON or
// YAML according to --output.
package command
