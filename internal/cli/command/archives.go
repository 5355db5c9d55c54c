package command

import (
	"context"
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

func dirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "dir",
		Aliases: []string{"d"},
		Usage:   "Archives directory (defaults to the CLI configuration)",
	}
}

// ArchivesCommand returns the archives subcommand group.
func ArchivesCommand() *cli.Command {
	return &cli.Command{
		Name:    "archives",
		Aliases: []string{"ar"},
		Usage:   "Snapshot archive management",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List full and incremental archives, newest first",
				Flags:  []cli.Flag{dirFlag()},
				Action: archivesList,
			},
			{
				Name:      "verify",
				Usage:     "Restore archives into a scratch directory and check their hashes",
				ArgsUsage: "[ARCHIVE...]",
				Flags: []cli.Flag{
					dirFlag(),
					&cli.IntFlag{
						Name:  "hash-workers",
						Usage: "Accounts hash workers (0 picks from CPU count)",
					},
				},
				Action: archivesVerify,
			},
			{
				Name:  "purge",
				Usage: "Delete archives beyond the retention limits",
				Flags: []cli.Flag{
					dirFlag(),
					&cli.IntFlag{
						Name:  "max-full",
						Usage: "Full archives to keep",
						Value: snapshot.DefaultMaxFullArchivesToRetain,
					},
					&cli.IntFlag{
						Name:  "max-incremental",
						Usage: "Incremental archives to keep",
						Value: snapshot.DefaultMaxIncrementalArchivesToRetain,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show what would be removed",
					},
				},
				Action: archivesPurge,
			},
		},
	}
}

// ArchiveRow is one archive in list output.
type ArchiveRow struct {
	Kind      string  `json:"kind" yaml:"kind"`
	Slot      uint64  `json:"slot" yaml:"slot"`
	BaseSlot  *uint64 `json:"base_slot,omitempty" yaml:"base_slot,omitempty"`
	Hash      string  `json:"hash" yaml:"hash"`
	Format    string  `json:"format" yaml:"format"`
	Size      string  `json:"-" yaml:"-"`
	SizeBytes int64   `json:"size_bytes" yaml:"size_bytes" table:"-"`
	Path      string  `json:"path" yaml:"path" table:"wide"`
}

func newArchiveRow(a snapshot.ArchiveInfo) ArchiveRow {
	row := ArchiveRow{
		Kind:   "full",
		Slot:   uint64(a.Slot),
		Hash:   a.Hash.String(),
		Format: a.Format.String(),
		Path:   a.Path,
	}
	if a.Incremental {
		base := uint64(a.BaseSlot)
		row.Kind = "incremental"
		row.BaseSlot = &base
	}
	if fi, err := os.Stat(a.Path); err == nil {
		row.SizeBytes = fi.Size()
	}
	row.Size = output.FormatBytes(row.SizeBytes)
	return row
}

// listArchives returns full archives followed by incremental archives,
// each newest first.
func listArchives(dir string) ([]snapshot.ArchiveInfo, error) {
	full, err := snapshot.GetFullArchiveInfos(dir)
	if err != nil {
		return nil, err
	}
	incr, err := snapshot.GetIncrementalArchiveInfos(dir)
	if err != nil {
		return nil, err
	}
	return append(full, incr...), nil
}

func archivesList(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	dir := g.archivesDir(c)
	infos, err := listArchives(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	rows := make([]ArchiveRow, 0, len(infos))
	for _, a := range infos {
		rows = append(rows, newArchiveRow(a))
	}
	if len(rows) == 0 && g.Output == output.FormatTable {
		fmt.Fprintf(stdout(c), "No archives in %s\n", dir)
		return nil
	}
	return g.print(c, rows)
}

// VerifyRow is the outcome of verifying one archive.
type VerifyRow struct {
	Archive  string `json:"archive" yaml:"archive"`
	Slot     uint64 `json:"slot" yaml:"slot"`
	Result   string `json:"result" yaml:"result"`
	BankHash string `json:"bank_hash,omitempty" yaml:"bank_hash,omitempty" table:"wide"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Duration string `json:"duration" yaml:"duration"`
}

func archivesVerify(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	dir := g.archivesDir(c)

	var targets []snapshot.ArchiveInfo
	if c.Args().Len() > 0 {
		for _, p := range c.Args().Slice() {
			a, err := snapshot.ParseArchivePath(p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			targets = append(targets, a)
		}
	} else if targets, err = listArchives(dir); err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no archives to verify in %s", dir)
	}

	hasher := accounts.NewHasher(c.Int("hash-workers"))
	defer hasher.Stop()

	var bar *output.ProgressBar
	if w := g.progressWriter(c); w != nil {
		var total int64
		for _, a := range targets {
			if fi, err := os.Stat(a.Path); err == nil {
				total += fi.Size()
			}
		}
		bar = output.NewProgressBar(w, "verifying", total)
	}

	rows := make([]VerifyRow, 0, len(targets))
	failed := 0
	for _, a := range targets {
		row := verifyArchive(c.Context, hasher, a)
		if row.Error != "" {
			failed++
		}
		rows = append(rows, row)
		if bar != nil {
			bar.Add(newArchiveRow(a).SizeBytes)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if err := g.print(c, rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failed, len(rows))
	}
	return nil
}

// verifyArchive restores a into a scratch directory. Incremental archives
// are restored on top of their base full archive from the same directory.
func verifyArchive(ctx context.Context, hasher *accounts.Hasher, a snapshot.ArchiveInfo) VerifyRow {
	start := time.Now()
	row := VerifyRow{Archive: a.FileName(), Slot: uint64(a.Slot), Result: "ok"}
	fail := func(err error) VerifyRow {
		row.Result = "failed"
		row.Error = err.Error()
		row.Duration = time.Since(start).Round(time.Millisecond).String()
		return row
	}

	full, incr := a, (*snapshot.ArchiveInfo)(nil)
	if a.Incremental {
		base, err := findFullArchive(filepath.Dir(a.Path), a)
		if err != nil {
			return fail(err)
		}
		full, incr = base, &a
	}

	scratch, err := os.MkdirTemp("", "ledgersnap-verify-")
	if err != nil {
		return fail(err)
	}
	defer os.RemoveAll(scratch)

	res, err := snapshot.BankFromSnapshotArchives(ctx, snapshot.RestoreConfig{
		BankSnapshotsDir: filepath.Join(scratch, "bank-snapshots"),
		AccountPaths:     []string{filepath.Join(scratch, "accounts")},
		Index:            accounts.IndexConfig{InMemory: true},
		Hasher:           hasher,
		Logger:           logger.Discard(),
	}, full, incr)
	if err != nil {
		return fail(err)
	}
	defer res.DB.Close()

	row.BankHash = res.Bank.Hash().String()
	row.Duration = time.Since(start).Round(time.Millisecond).String()
	return row
}

func findFullArchive(dir string, incr snapshot.ArchiveInfo) (snapshot.ArchiveInfo, error) {
	fulls, err := snapshot.GetFullArchiveInfos(dir)
	if err != nil {
		return snapshot.ArchiveInfo{}, err
	}
	for _, f := range fulls {
		if f.Slot == incr.BaseSlot {
			return f, nil
		}
	}
	return snapshot.ArchiveInfo{}, fmt.Errorf("base full archive for slot %d not found in %s", incr.BaseSlot, dir)
}

// PurgeRow is one archive removed by purge.
type PurgeRow struct {
	Removed string `json:"removed" yaml:"removed"`
}

func archivesPurge(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	dir := g.archivesDir(c)
	maxFull, maxIncr := c.Int("max-full"), c.Int("max-incremental")

	var removed []string
	if c.Bool("dry-run") {
		removed, err = purgeCandidates(dir, maxFull, maxIncr)
	} else {
		removed, err = snapshot.PurgeOldSnapshotArchives(dir, maxFull, maxIncr)
	}
	if err != nil {
		return err
	}

	if len(removed) == 0 && g.Output == output.FormatTable {
		fmt.Fprintln(stdout(c), "Nothing to purge")
		return nil
	}
	rows := make([]PurgeRow, 0, len(removed))
	for _, p := range removed {
		rows = append(rows, PurgeRow{Removed: filepath.Base(p)})
	}
	return g.print(c, rows)
}

// purgeCandidates runs the purge against a copy of the directory listing so
// nothing on disk changes.
func purgeCandidates(dir string, maxFull, maxIncr int) ([]string, error) {
	infos, err := listArchives(dir)
	if err != nil {
		return nil, err
	}
	shadow, err := os.MkdirTemp("", "ledgersnap-purge-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(shadow)

	for _, a := range infos {
		f, err := os.Create(filepath.Join(shadow, a.FileName()))
		if err != nil {
			return nil, err
		}
		f.Close()
	}
	removed, err := snapshot.PurgeOldSnapshotArchives(shadow, maxFull, maxIncr)
	for i, p := range removed {
		removed[i] = filepath.Join(dir, filepath.Base(p))
	}
	return removed, err
}
