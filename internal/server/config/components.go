package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/forks"
	"github.com/yndnr/ledgersnap/internal/pipeline"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

// ResolvePaths fills empty directories from node.data_dir and generates a
// node ID when none is configured.
func ResolvePaths(cfg *NodeConfig) error {
	dataDir := cfg.Node.DataDir
	if cfg.Snapshot.BankSnapshotsDir == "" {
		cfg.Snapshot.BankSnapshotsDir = filepath.Join(dataDir, "bank-snapshots")
	}
	if cfg.Snapshot.ArchivesDir == "" {
		cfg.Snapshot.ArchivesDir = filepath.Join(dataDir, "archives")
	}
	if len(cfg.Accounts.Paths) == 0 {
		cfg.Accounts.Paths = []string{filepath.Join(dataDir, "accounts")}
	}
	if !cfg.Accounts.Index.InMemory && cfg.Accounts.Index.Dir == "" {
		cfg.Accounts.Index.Dir = filepath.Join(dataDir, "accounts-index")
	}

	if cfg.Node.ID == "" {
		id, err := generateNodeID()
		if err != nil {
			return fmt.Errorf("generate node ID: %w", err)
		}
		cfg.Node.ID = id
	}
	return nil
}

// ArchiveConfig converts the snapshot section.
func ArchiveConfig(cfg *NodeConfig) (snapshot.ArchiveConfig, error) {
	format, err := snapshot.ParseArchiveFormat(cfg.Snapshot.ArchiveFormat)
	if err != nil {
		return snapshot.ArchiveConfig{}, err
	}
	return snapshot.ArchiveConfig{
		BankSnapshotsDir:               cfg.Snapshot.BankSnapshotsDir,
		ArchivesDir:                    cfg.Snapshot.ArchivesDir,
		Format:                         format,
		Version:                        cfg.Snapshot.Version,
		MaxFullArchivesToRetain:        cfg.Snapshot.MaxFullArchivesToRetain,
		MaxIncrementalArchivesToRetain: cfg.Snapshot.MaxIncrementalArchivesToRetain,
		MaxBankSnapshotsToRetain:       cfg.Snapshot.MaxBankSnapshotsToRetain,
		Limiter:                        snapshot.NewWriteLimiter(cfg.Snapshot.WriteRateMBps * 1024 * 1024),
	}, nil
}

// AccountsConfig converts the accounts section.
func AccountsConfig(cfg *NodeConfig, log *slog.Logger) accounts.Config {
	return accounts.Config{
		AccountPaths:    cfg.Accounts.Paths,
		Index:           cfg.Accounts.Index,
		IndexGCInterval: cfg.Accounts.IndexGCInterval,
		Logger:          log,
	}
}

// RestoreConfig builds the restore settings. The hasher is owned by the
// caller.
func RestoreConfig(cfg *NodeConfig, hasher *accounts.Hasher, log *slog.Logger) snapshot.RestoreConfig {
	return snapshot.RestoreConfig{
		ArchivesDir:      cfg.Snapshot.ArchivesDir,
		BankSnapshotsDir: cfg.Snapshot.BankSnapshotsDir,
		AccountPaths:     cfg.Accounts.Paths,
		Index:            cfg.Accounts.Index,
		IndexGCInterval:  cfg.Accounts.IndexGCInterval,
		MaxCacheEntries:  cfg.Snapshot.MaxCacheEntries,
		Hasher:           hasher,
		Logger:           log,
	}
}

// ForksConfig converts the interval settings. The observer is attached by
// the caller.
func ForksConfig(cfg *NodeConfig, observer forks.DropObserver, log *slog.Logger) forks.Config {
	return forks.Config{
		AccountsHashInterval:        cfg.Snapshot.AccountsHashInterval,
		FullSnapshotInterval:        cfg.Snapshot.FullSnapshotInterval,
		IncrementalSnapshotInterval: cfg.Snapshot.IncrementalSnapshotInterval,
		Observer:                    observer,
		Logger:                      log,
	}
}

// PipelineConfig converts the snapshot section into the services
// configuration. Announcer, OnFatal, LastFullSnapshotSlot and Metrics are
// left to the caller.
func PipelineConfig(cfg *NodeConfig, log *slog.Logger) (pipeline.Config, error) {
	archive, err := ArchiveConfig(cfg)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Archive:                     archive,
		FullSnapshotInterval:        cfg.Snapshot.FullSnapshotInterval,
		IncrementalSnapshotInterval: cfg.Snapshot.IncrementalSnapshotInterval,
		PackageOnHashOnly:           cfg.Snapshot.PackageOnHashOnly,
		LoopInterval:                cfg.Snapshot.LoopInterval,
		Logger:                      log,
	}, nil
}

// GossipConfig converts the gossip section.
func GossipConfig(cfg *NodeConfig, log *slog.Logger) pipeline.GossipConfig {
	var key []byte
	if cfg.Gossip.SecretKey != "" {
		key = []byte(cfg.Gossip.SecretKey)
	}
	return pipeline.GossipConfig{
		NodeName:      cfg.Node.ID,
		BindAddr:      cfg.Gossip.BindAddr,
		BindPort:      cfg.Gossip.BindPort,
		AdvertiseAddr: cfg.Gossip.AdvertiseAddr,
		AdvertisePort: cfg.Gossip.AdvertisePort,
		Seeds:         cfg.Gossip.Seeds,
		SecretKey:     key,
		Logger:        log,
	}
}

// LoggerConfig converts the log section.
func LoggerConfig(cfg *NodeConfig) logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.File = cfg.Log.File
	if cfg.Log.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups > 0 {
		lc.MaxBackups = cfg.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays > 0 {
		lc.MaxAgeDays = cfg.Log.MaxAgeDays
	}
	return lc
}

// generateNodeID generates a unique node identifier.
//
// Format: lsnode-<16 hex chars> (e.g., "lsnode-a1b2c3d4e5f67890")
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "lsnode-" + hex.EncodeToString(buf), nil
}
