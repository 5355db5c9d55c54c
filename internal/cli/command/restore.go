package command

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/cli/output"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

// RestoreCommand returns the restore command.
func RestoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "Rebuild account storage from snapshot archives",
		Description: "Restores the newest full archive and its newest incremental archive, or\n" +
			"the archives named by --full and --incremental, into --accounts-path.\n" +
			"Existing storage files in the account paths are removed first.",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.StringSliceFlag{
				Name:     "accounts-path",
				Usage:    "Directory to receive account storage files (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "bank-snapshots-dir",
				Usage: "Directory for unpacking (defaults to a temporary directory)",
			},
			&cli.StringFlag{
				Name:  "index-dir",
				Usage: "On-disk account index directory (defaults to an in-memory index)",
			},
			&cli.StringFlag{
				Name:  "full",
				Usage: "Full archive to restore instead of the newest",
			},
			&cli.StringFlag{
				Name:  "incremental",
				Usage: "Incremental archive to apply on top of --full",
			},
			&cli.IntFlag{
				Name:  "hash-workers",
				Usage: "Accounts hash workers (0 picks from CPU count)",
			},
		},
		Action: restore,
	}
}

// RestoreSummary describes a restored bank.
type RestoreSummary struct {
	Slot               uint64 `json:"slot" yaml:"slot"`
	BlockHeight        uint64 `json:"block_height" yaml:"block_height"`
	BankHash           string `json:"bank_hash" yaml:"bank_hash"`
	AccountsHash       string `json:"accounts_hash" yaml:"accounts_hash"`
	Capitalization     uint64 `json:"capitalization" yaml:"capitalization"`
	TransactionCount   uint64 `json:"transaction_count" yaml:"transaction_count"`
	FullArchive        string `json:"full_archive" yaml:"full_archive"`
	IncrementalArchive string `json:"incremental_archive,omitempty" yaml:"incremental_archive,omitempty"`
	Duration           string `json:"duration" yaml:"duration"`
}

func restore(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	if c.IsSet("incremental") && !c.IsSet("full") {
		return fmt.Errorf("--incremental needs --full")
	}

	bankSnapshotsDir := c.String("bank-snapshots-dir")
	if bankSnapshotsDir == "" {
		tmp, err := os.MkdirTemp("", "ledgersnap-restore-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		bankSnapshotsDir = filepath.Join(tmp, "bank-snapshots")
	}
	index := accounts.IndexConfig{InMemory: true}
	if dir := c.String("index-dir"); dir != "" {
		index = accounts.IndexConfig{Dir: dir}
	}

	hasher := accounts.NewHasher(c.Int("hash-workers"))
	defer hasher.Stop()

	cfg := snapshot.RestoreConfig{
		ArchivesDir:      g.archivesDir(c),
		BankSnapshotsDir: bankSnapshotsDir,
		AccountPaths:     c.StringSlice("accounts-path"),
		Index:            index,
		Hasher:           hasher,
		Logger:           logger.Discard(),
	}

	var spinner *output.Spinner
	if w := g.progressWriter(c); w != nil {
		spinner = output.NewSpinner(w, "restoring from "+cfg.ArchivesDir)
		spinner.Start()
	}

	start := time.Now()
	var res *snapshot.RestoreResult
	if c.IsSet("full") {
		full, incr, perr := namedArchives(c.String("full"), c.String("incremental"))
		if perr != nil {
			err = perr
		} else {
			res, err = snapshot.BankFromSnapshotArchives(c.Context, cfg, full, incr)
		}
	} else {
		res, err = snapshot.BankFromLatestSnapshotArchives(c.Context, cfg)
	}
	if err != nil {
		if spinner != nil {
			spinner.Fail("restore failed")
		}
		return err
	}
	defer res.DB.Close()
	if spinner != nil {
		spinner.Success(fmt.Sprintf("restored slot %d", res.Bank.Slot()))
	}

	f := res.Bank.Fields()
	summary := RestoreSummary{
		Slot:             uint64(f.Slot),
		BlockHeight:      f.BlockHeight,
		BankHash:         f.Hash.String(),
		AccountsHash:     f.AccountsHash.String(),
		Capitalization:   f.Capitalization,
		TransactionCount: f.TransactionCount,
		FullArchive:      res.Full.FileName(),
		Duration:         time.Since(start).Round(time.Millisecond).String(),
	}
	if res.Incremental != nil {
		summary.IncrementalArchive = res.Incremental.FileName()
	}
	return g.print(c, summary)
}

func namedArchives(fullPath, incrPath string) (snapshot.ArchiveInfo, *snapshot.ArchiveInfo, error) {
	full, err := snapshot.ParseArchivePath(fullPath)
	if err != nil {
		return full, nil, fmt.Errorf("--full %s: %w", fullPath, err)
	}
	if incrPath == "" {
		return full, nil, nil
	}
	incr, err := snapshot.ParseArchivePath(incrPath)
	if err != nil {
		return full, nil, fmt.Errorf("--incremental %s: %w", incrPath, err)
	}
	return full, &incr, nil
}
