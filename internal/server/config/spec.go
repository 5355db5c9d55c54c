package config

import (
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
)

// NodeConfig is the root configuration for ledgersnap-node.
type NodeConfig struct {
	Node     NodeSection     `koanf:"node" yaml:"node"`
	Snapshot SnapshotSection `koanf:"snapshot" yaml:"snapshot"`
	Accounts AccountsSection `koanf:"accounts" yaml:"accounts"`
	Producer ProducerSection `koanf:"producer" yaml:"producer"`
	Gossip   GossipSection   `koanf:"gossip" yaml:"gossip"`
	HTTP     HTTPSection     `koanf:"http" yaml:"http"`
	Log      LogSection      `koanf:"log" yaml:"log"`
}

// NodeSection identifies the node and its data directory.
type NodeSection struct {
	// ID names the node in gossip. If empty, a random ID is generated at
	// startup.
	ID string `koanf:"id" yaml:"id"`

	// DataDir is the parent of every directory left empty below.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`
}

// SnapshotSection configures the snapshot pipeline. It is fixed for the
// lifetime of the process.
type SnapshotSection struct {
	BankSnapshotsDir string `koanf:"bank_snapshots_dir" yaml:"bank_snapshots_dir"`
	ArchivesDir      string `koanf:"archives_dir" yaml:"archives_dir"`

	// ArchiveFormat is one of tar, tar.gz, tar.zst.
	ArchiveFormat string `koanf:"archive_format" yaml:"archive_format"`
	Version       string `koanf:"version" yaml:"version"`

	// Intervals are block height multiples. Zero disables the trigger.
	AccountsHashInterval        uint64 `koanf:"accounts_hash_interval" yaml:"accounts_hash_interval"`
	FullSnapshotInterval        uint64 `koanf:"full_snapshot_interval" yaml:"full_snapshot_interval"`
	IncrementalSnapshotInterval uint64 `koanf:"incremental_snapshot_interval" yaml:"incremental_snapshot_interval"`

	// PackageOnHashOnly sends hash-only requests through verification.
	PackageOnHashOnly bool `koanf:"package_on_hash_only" yaml:"package_on_hash_only"`

	MaxFullArchivesToRetain        int `koanf:"max_full_archives_to_retain" yaml:"max_full_archives_to_retain"`
	MaxIncrementalArchivesToRetain int `koanf:"max_incremental_archives_to_retain" yaml:"max_incremental_archives_to_retain"`
	MaxBankSnapshotsToRetain       int `koanf:"max_bank_snapshots_to_retain" yaml:"max_bank_snapshots_to_retain"`

	// HashWorkers sizes the shared hash pool. Zero picks a default from the
	// CPU count.
	HashWorkers int `koanf:"hash_workers" yaml:"hash_workers"`

	// WriteRateMBps caps archive write throughput. Zero means unlimited.
	WriteRateMBps int `koanf:"write_rate_mbps" yaml:"write_rate_mbps"`

	LoopInterval    time.Duration `koanf:"loop_interval" yaml:"loop_interval"`
	MaxCacheEntries int           `koanf:"max_cache_entries" yaml:"max_cache_entries"`
}

// AccountsSection configures the accounts database.
type AccountsSection struct {
	Paths           []string             `koanf:"paths" yaml:"paths"`
	Index           accounts.IndexConfig `koanf:"index" yaml:"index"`
	IndexGCInterval time.Duration        `koanf:"index_gc_interval" yaml:"index_gc_interval"`
}

// ProducerSection configures the local slot producer that drives the fork
// set when the node is not attached to a real ledger.
type ProducerSection struct {
	Enabled      bool          `koanf:"enabled" yaml:"enabled"`
	SlotInterval time.Duration `koanf:"slot_interval" yaml:"slot_interval"`

	// RootDistance is how many slots the root trails the tip.
	RootDistance uint64 `koanf:"root_distance" yaml:"root_distance"`

	// ForkEvery makes every Nth slot spawn a sibling that never roots. Zero
	// disables forking.
	ForkEvery uint64 `koanf:"fork_every" yaml:"fork_every"`

	TransactionsPerSlot int    `koanf:"transactions_per_slot" yaml:"transactions_per_slot"`
	GenesisAccounts     int    `koanf:"genesis_accounts" yaml:"genesis_accounts"`
	GenesisLamports     uint64 `koanf:"genesis_lamports" yaml:"genesis_lamports"`
}

// GossipSection configures archive announcement over memberlist.
type GossipSection struct {
	Enabled       bool     `koanf:"enabled" yaml:"enabled"`
	BindAddr      string   `koanf:"bind_addr" yaml:"bind_addr"`
	BindPort      int      `koanf:"bind_port" yaml:"bind_port"`
	AdvertiseAddr string   `koanf:"advertise_addr" yaml:"advertise_addr"`
	AdvertisePort int      `koanf:"advertise_port" yaml:"advertise_port"`
	Seeds         []string `koanf:"seeds" yaml:"seeds"`

	// SecretKey enables gossip encryption. It must be 16, 24 or 32 bytes.
	SecretKey string `koanf:"secret_key" yaml:"secret_key"`
}

// HTTPSection configures the admin HTTP endpoint.
type HTTPSection struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr      string `koanf:"addr" yaml:"addr"`
	RateLimit int    `koanf:"rate_limit" yaml:"rate_limit"`
}

// LogSection configures logging.
type LogSection struct {
	Level      string `koanf:"level" yaml:"level"`
	Format     string `koanf:"format" yaml:"format"`
	File       string `koanf:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"max_age_days"`
}
