// Package node assembles a ledgersnap node: the accounts database, the fork
// set, the snapshot services, an optional local slot producer, gossip
// announcement and the admin HTTP endpoint.
//
// Lifecycle:
//
//	n, err := node.New(cfg, node.Options{Logger: log})
//	err = n.Recover(ctx) // restore from the newest archives or create genesis
//	err = n.Start(ctx)
//	...
//	err = n.Close(ctx)
package node
