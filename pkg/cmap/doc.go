// Package cmap is a sharded map for hot concurrent lookups.
//
// Shards are picked with murmur3 over a caller-supplied key encoding, so
// integer keys such as slots are hashed without formatting.
package cmap
