package config

import (
	"time"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/forks"
	"github.com/yndnr/ledgersnap/internal/snapshot"
)

// Default configuration values.
const (
	DefaultDataDir  = "/var/lib/ledgersnap"
	DefaultHTTPAddr = "127.0.0.1:8899"

	DefaultFullSnapshotInterval        = 25000
	DefaultIncrementalSnapshotInterval = 100
	DefaultLoopInterval                = 100 * time.Millisecond

	DefaultGossipBindAddr = "0.0.0.0"
	DefaultGossipPort     = 8001

	DefaultSlotInterval        = 400 * time.Millisecond
	DefaultRootDistance        = 32
	DefaultTransactionsPerSlot = 8
	DefaultGenesisAccounts     = 16
	DefaultGenesisLamports     = 1_000_000_000

	DefaultHTTPRateLimit = 100

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default node configuration.
func Default() *NodeConfig {
	return &NodeConfig{
		Node: NodeSection{
			DataDir: DefaultDataDir,
		},
		Snapshot: SnapshotSection{
			ArchiveFormat:                  snapshot.DefaultArchiveFormat.Extension(),
			Version:                        snapshot.DefaultSnapshotVersion,
			AccountsHashInterval:           forks.DefaultAccountsHashInterval,
			FullSnapshotInterval:           DefaultFullSnapshotInterval,
			IncrementalSnapshotInterval:    DefaultIncrementalSnapshotInterval,
			MaxFullArchivesToRetain:        snapshot.DefaultMaxFullArchivesToRetain,
			MaxIncrementalArchivesToRetain: snapshot.DefaultMaxIncrementalArchivesToRetain,
			MaxBankSnapshotsToRetain:       snapshot.DefaultMaxBankSnapshotsToRetain,
			LoopInterval:                   DefaultLoopInterval,
			MaxCacheEntries:                bank.MaxCacheEntries,
		},
		Producer: ProducerSection{
			Enabled:             true,
			SlotInterval:        DefaultSlotInterval,
			RootDistance:        DefaultRootDistance,
			TransactionsPerSlot: DefaultTransactionsPerSlot,
			GenesisAccounts:     DefaultGenesisAccounts,
			GenesisLamports:     DefaultGenesisLamports,
		},
		Gossip: GossipSection{
			BindAddr: DefaultGossipBindAddr,
			BindPort: DefaultGossipPort,
		},
		HTTP: HTTPSection{
			Addr:      DefaultHTTPAddr,
			RateLimit: DefaultHTTPRateLimit,
		},
		Log: LogSection{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
