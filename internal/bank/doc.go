// Package bank implements the per-slot ledger state object.
//
// A Bank accepts transfers until it is frozen, then is squashed when the fork
// set roots it. The StatusCache it shares with its descendants remembers
// signatures per slot so replays are rejected within the retained root
// window.
package bank
