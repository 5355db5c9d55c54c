// Package domain defines the core domain models for ledgersnap.
//
// Domain models are plain value types without IO dependencies:
//
//   - Slot, Hash, Pubkey, Signature: ledger identifiers
//   - Account: the state stored under a pubkey
//   - Errors: coded domain errors shared by every layer
package domain
