// Package forks holds the in-memory tree of banks rooted at a single
// advancing root.
//
// SetRoot squashes the newly rooted path, prunes banks that no longer
// descend from the root and hands at most one snapshot request to the
// pipeline.
package forks
