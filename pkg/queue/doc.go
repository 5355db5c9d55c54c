// Package queue provides an unbounded FIFO with a wake-up signal.
//
// Producers never block: Push appends to a growable ring buffer and leaves
// at most one pending wake-up on the signal channel. Consumers select on
// Signal() together with their own cancellation and then drain.
package queue
