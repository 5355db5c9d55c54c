package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

// Verify validates the configuration and creates the data directory.
// Call ResolvePaths first so derived directories are checked too.
func Verify(cfg *NodeConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Node.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}

// Validate checks the configuration without touching the filesystem.
func Validate(cfg *NodeConfig) error {
	if err := verifySnapshot(&cfg.Snapshot); err != nil {
		return err
	}
	if err := verifyAccounts(&cfg.Accounts); err != nil {
		return err
	}
	if err := verifyProducer(&cfg.Producer); err != nil {
		return err
	}
	if err := verifyGossip(&cfg.Gossip); err != nil {
		return err
	}
	if err := verifyHTTP(&cfg.HTTP); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	if cfg.Node.DataDir == "" {
		return errors.New("node.data_dir is required")
	}
	return nil
}

func verifySnapshot(cfg *SnapshotSection) error {
	if cfg.BankSnapshotsDir == "" {
		return errors.New("snapshot.bank_snapshots_dir is required")
	}
	if cfg.ArchivesDir == "" {
		return errors.New("snapshot.archives_dir is required")
	}
	if _, err := snapshot.ParseArchiveFormat(cfg.ArchiveFormat); err != nil {
		return fmt.Errorf("snapshot.archive_format: %w", err)
	}
	if _, err := snapshot.CheckVersion(cfg.Version); err != nil {
		return fmt.Errorf("snapshot.version: %w", err)
	}

	full, incr := cfg.FullSnapshotInterval, cfg.IncrementalSnapshotInterval
	if incr != 0 {
		if full == 0 {
			return errors.New("snapshot.incremental_snapshot_interval requires full_snapshot_interval")
		}
		if incr >= full {
			return fmt.Errorf("snapshot.incremental_snapshot_interval (%d) must be less than full_snapshot_interval (%d)", incr, full)
		}
	}
	if cfg.AccountsHashInterval != 0 {
		for _, iv := range []uint64{full, incr} {
			if iv != 0 && iv%cfg.AccountsHashInterval != 0 {
				return fmt.Errorf("snapshot intervals must be multiples of accounts_hash_interval (%d)", cfg.AccountsHashInterval)
			}
		}
	}

	if cfg.MaxFullArchivesToRetain < 1 {
		return errors.New("snapshot.max_full_archives_to_retain must be at least 1")
	}
	if cfg.MaxIncrementalArchivesToRetain < 1 {
		return errors.New("snapshot.max_incremental_archives_to_retain must be at least 1")
	}
	if cfg.MaxBankSnapshotsToRetain < 1 {
		return errors.New("snapshot.max_bank_snapshots_to_retain must be at least 1")
	}
	if cfg.HashWorkers < 0 || cfg.WriteRateMBps < 0 {
		return errors.New("snapshot.hash_workers and write_rate_mbps must not be negative")
	}
	return nil
}

func verifyAccounts(cfg *AccountsSection) error {
	if len(cfg.Paths) == 0 {
		return errors.New("accounts.paths is required")
	}
	return cfg.Index.Validate()
}

func verifyProducer(cfg *ProducerSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlotInterval <= 0 {
		return errors.New("producer.slot_interval must be positive")
	}
	if cfg.RootDistance < 1 {
		return errors.New("producer.root_distance must be at least 1")
	}
	if cfg.GenesisAccounts < 1 {
		return errors.New("producer.genesis_accounts must be at least 1")
	}
	return nil
}

func verifyGossip(cfg *GossipSection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BindPort < 0 || cfg.BindPort > 65535 {
		return fmt.Errorf("gossip.bind_port %d out of range", cfg.BindPort)
	}
	switch len(cfg.SecretKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("gossip.secret_key must be 16, 24 or 32 bytes, got %d", len(cfg.SecretKey))
	}
	return nil
}

func verifyHTTP(cfg *HTTPSection) error {
	if cfg.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("http.addr: %w", err)
	}
	return nil
}
