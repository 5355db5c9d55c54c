// Package main provides the entry point for ledgersnap-node.
//
// The node restores its root bank from the newest snapshot archives in its
// data directory, or starts from genesis, and then keeps producing archives
// as the fork set advances:
//
//   - Snapshot request, hash verification and packaging services
//   - Local slot producer standing in for replay
//   - Admin HTTP endpoint with health, readiness, status and metrics
//   - Optional gossip of the newest archive hashes
//
// Usage:
//
//	ledgersnap-node [flags]
//	ledgersnap-node --config /etc/ledgersnap/node.yaml
//
// Every setting can also be given as LEDGERSNAP_<SECTION>__<KEY>, for
// example LEDGERSNAP_SNAPSHOT__FULL_SNAPSHOT_INTERVAL=50000.
package main
