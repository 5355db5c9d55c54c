// Package main provides the entry point for ledgersnap, the command-line
// tool for snapshot archives and running nodes.
//
// Archive commands work on a directory of archives directly:
//
//	ledgersnap archives list --dir /var/lib/ledgersnap/archives
//	ledgersnap archives verify
//	ledgersnap archives purge --max-full 1 --dry-run
//	ledgersnap restore --accounts-path /data/accounts
//
// Node commands query a node's admin endpoint:
//
//	ledgersnap -n 10.0.0.5:8899 node status
package main
