package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// ArchiveConfig configures archive production.
type ArchiveConfig struct {
	BankSnapshotsDir string
	ArchivesDir      string
	Format           ArchiveFormat
	Version          string

	MaxFullArchivesToRetain        int
	MaxIncrementalArchivesToRetain int
	MaxBankSnapshotsToRetain       int

	// Limiter caps archive write throughput in bytes per second. Nil means
	// unlimited.
	Limiter *rate.Limiter
}

// PackageConfig returns the package assembly settings.
func (c ArchiveConfig) PackageConfig() PackageConfig {
	return PackageConfig{BankSnapshotsDir: c.BankSnapshotsDir, Format: c.Format, Version: c.Version}
}

// NewWriteLimiter returns a limiter for bytesPerSecond, or nil when the rate
// is not positive.
func NewWriteLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}

// ArchiveSnapshotPackage writes pkg into archivesDir. The archive is written
// to a temporary file, synced and renamed, so a partial archive is never
// listed. The write is not interruptible.
func ArchiveSnapshotPackage(pkg *SnapshotPackage, archivesDir string, limiter *rate.Limiter) (ArchiveInfo, error) {
	if err := os.MkdirAll(archivesDir, 0750); err != nil {
		return ArchiveInfo{}, fmt.Errorf("snapshot: create archives dir: %w", err)
	}

	tmp := filepath.Join(archivesDir, TmpArchivePrefix+ulid.Make().String()+"."+pkg.Format.Extension())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("snapshot: create temp archive: %w", err)
	}
	defer os.Remove(tmp)

	if err := writeArchive(&limitedWriter{w: f, limiter: limiter}, pkg); err != nil {
		f.Close()
		return ArchiveInfo{}, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ArchiveInfo{}, fmt.Errorf("snapshot: sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return ArchiveInfo{}, fmt.Errorf("snapshot: close archive: %w", err)
	}

	final := filepath.Join(archivesDir, pkg.ArchiveFileName())
	if err := os.Rename(tmp, final); err != nil {
		return ArchiveInfo{}, fmt.Errorf("snapshot: rename archive: %w", err)
	}
	syncDir(archivesDir)

	return ArchiveInfo{
		Path:        final,
		Slot:        pkg.Slot,
		Hash:        pkg.Hash,
		Format:      pkg.Format,
		BaseSlot:    pkg.BaseSlot,
		Incremental: pkg.Kind == PackageIncremental,
	}, nil
}

func writeArchive(w io.Writer, pkg *SnapshotPackage) error {
	zw, err := pkg.Format.newCompressor(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	for _, m := range pkg.Members {
		if err := addTarMember(tw, m); err != nil {
			zw.Close()
			return fmt.Errorf("snapshot: archive %s: %w", m.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("snapshot: finish tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("snapshot: finish compression: %w", err)
	}
	return nil
}

func addTarMember(tw *tar.Writer, m Member) error {
	f, err := os.Open(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     m.Name,
		Mode:     0640,
		Size:     st.Size(),
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// limitedWriter throttles writes through a token bucket whose burst bounds
// the chunk size.
type limitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.limiter == nil {
		return l.w.Write(p)
	}
	written := 0
	for len(p) > 0 {
		chunk := min(len(p), l.limiter.Burst())
		if err := l.limiter.WaitN(context.Background(), chunk); err != nil {
			return written, err
		}
		n, err := l.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// PackageProcessAndArchiveFullSnapshot hashes b, writes its bank snapshot,
// packages, verifies and archives it in one call, then applies retention.
func PackageProcessAndArchiveFullSnapshot(ctx context.Context, cfg ArchiveConfig, hasher *accounts.Hasher, b *bank.Bank) (ArchiveInfo, error) {
	return packageProcessAndArchive(ctx, cfg, hasher, b, nil)
}

// PackageProcessAndArchiveIncrementalSnapshot is the incremental variant of
// PackageProcessAndArchiveFullSnapshot.
func PackageProcessAndArchiveIncrementalSnapshot(ctx context.Context, cfg ArchiveConfig, hasher *accounts.Hasher, b *bank.Bank, base domain.Slot) (ArchiveInfo, error) {
	return packageProcessAndArchive(ctx, cfg, hasher, b, &base)
}

func packageProcessAndArchive(ctx context.Context, cfg ArchiveConfig, hasher *accounts.Hasher, b *bank.Bank, base *domain.Slot) (ArchiveInfo, error) {
	if _, err := b.UpdateAccountsHash(ctx, hasher); err != nil {
		return ArchiveInfo{}, err
	}
	version := cfg.Version
	if version == "" {
		version = DefaultSnapshotVersion
	}
	deltas := b.SlotDeltas()
	bs, err := AddBankSnapshot(cfg.BankSnapshotsDir, b, deltas, version)
	if err != nil {
		return ArchiveInfo{}, err
	}

	var pkg *AccountsPackage
	if base == nil {
		pkg, err = NewFullAccountsPackage(cfg.PackageConfig(), b, bs, deltas)
	} else {
		pkg, err = NewIncrementalAccountsPackage(cfg.PackageConfig(), b, bs, deltas, *base)
	}
	if err != nil {
		return ArchiveInfo{}, err
	}
	defer pkg.Cleanup()

	snap, err := ProcessAccountsPackage(ctx, pkg, hasher)
	if err != nil {
		return ArchiveInfo{}, err
	}
	info, err := ArchiveSnapshotPackage(snap, cfg.ArchivesDir, cfg.Limiter)
	if err != nil {
		return ArchiveInfo{}, err
	}
	if _, err := PurgeOldSnapshotArchives(cfg.ArchivesDir, cfg.MaxFullArchivesToRetain, cfg.MaxIncrementalArchivesToRetain); err != nil {
		return info, err
	}
	if _, err := PurgeOldBankSnapshots(cfg.BankSnapshotsDir, cfg.MaxBankSnapshotsToRetain); err != nil {
		return info, err
	}
	return info, nil
}
