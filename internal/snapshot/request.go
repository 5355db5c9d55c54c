package snapshot

import (
	"time"

	"github.com/yndnr/ledgersnap/internal/bank"
)

// Request asks the background service to hash a newly rooted bank and, when
// a snapshot is due, to package it. Requests are produced by the fork set on
// root advance and consumed at most once.
type Request struct {
	Bank       *bank.Bank
	SlotDeltas []bank.SlotDelta

	// ForceHash is set when the bank's block height hit the accounts hash
	// interval.
	ForceHash bool
	// ForceSnapshot makes the handler take a full snapshot regardless of the
	// configured cadence, even over AccountsHashOnly. The fork set never sets
	// it; it is for callers that enqueue a request directly to get a snapshot
	// of a rooted bank on demand.
	ForceSnapshot bool
	// AccountsHashOnly is set when neither snapshot interval was hit.
	AccountsHashOnly bool

	EnqueuedAt time.Time
}
