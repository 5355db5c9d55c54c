package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// PackageKind says what an accounts package turns into.
type PackageKind int

const (
	PackageFull PackageKind = iota
	PackageIncremental
	// PackageHashOnly packages are verified and discarded.
	PackageHashOnly
)

func (k PackageKind) String() string {
	switch k {
	case PackageFull:
		return "full"
	case PackageIncremental:
		return "incremental"
	case PackageHashOnly:
		return "hash_only"
	default:
		return "unknown"
	}
}

// PackageConfig holds what package assembly needs besides the bank.
type PackageConfig struct {
	BankSnapshotsDir string
	Format           ArchiveFormat
	Version          string
}

// AccountsPackage is a rooted bank's state staged for hashing and
// archiving. Staged files are hard links, so the package stays valid when
// its bank snapshot or storages are removed from their original location.
type AccountsPackage struct {
	ID          ulid.ULID
	Kind        PackageKind
	Slot        domain.Slot
	BlockHeight uint64
	// BaseSlot is the full snapshot slot an incremental package builds on.
	BaseSlot domain.Slot

	BankHash     domain.Hash
	ExpectedHash domain.Hash
	SlotDeltas   []bank.SlotDelta

	// Storages are archived. HashOnlyStorages only feed the hash.
	Storages         []string
	HashOnlyStorages []string

	// StagingDir is empty for hash-only packages.
	StagingDir string
	Format     ArchiveFormat
	Version    string
	CreatedAt  time.Time
}

// Cleanup removes the staging directory.
func (p *AccountsPackage) Cleanup() error {
	if p.StagingDir == "" {
		return nil
	}
	return os.RemoveAll(p.StagingDir)
}

func validatePackageBank(b *bank.Bank) error {
	if !b.IsFrozen() {
		return domain.ErrBankNotFrozen.WithDetailsf("slot %d", b.Slot())
	}
	if !b.IsRooted() {
		return domain.ErrBankNotRooted.WithDetailsf("slot %d", b.Slot())
	}
	return nil
}

func newPackage(kind PackageKind, cfg PackageConfig, b *bank.Bank, slotDeltas []bank.SlotDelta) *AccountsPackage {
	f := b.Fields()
	version := cfg.Version
	if version == "" {
		version = DefaultSnapshotVersion
	}
	return &AccountsPackage{
		ID:           ulid.Make(),
		Kind:         kind,
		Slot:         f.Slot,
		BlockHeight:  f.BlockHeight,
		BankHash:     f.Hash,
		ExpectedHash: f.AccountsHash,
		SlotDeltas:   slotDeltas,
		Format:       cfg.Format,
		Version:      version,
		CreatedAt:    time.Now(),
	}
}

// NewFullAccountsPackage stages every snapshot storage of b together with
// its bank snapshot.
func NewFullAccountsPackage(cfg PackageConfig, b *bank.Bank, bs BankSnapshotInfo, slotDeltas []bank.SlotDelta) (*AccountsPackage, error) {
	if err := validatePackageBank(b); err != nil {
		return nil, err
	}
	pkg := newPackage(PackageFull, cfg, b, slotDeltas)
	storages := b.DB().SnapshotStorages(pkg.Slot)
	if err := pkg.stage(cfg.BankSnapshotsDir, bs, storages, nil); err != nil {
		return nil, err
	}
	return pkg, nil
}

// NewIncrementalAccountsPackage stages the storages of b written after base
// for archiving and the remaining ones for hashing only.
func NewIncrementalAccountsPackage(cfg PackageConfig, b *bank.Bank, bs BankSnapshotInfo, slotDeltas []bank.SlotDelta, base domain.Slot) (*AccountsPackage, error) {
	if err := validatePackageBank(b); err != nil {
		return nil, err
	}
	if base >= b.Slot() {
		return nil, domain.ErrInvalidIncremental.WithDetailsf("base %d is not below slot %d", base, b.Slot())
	}
	pkg := newPackage(PackageIncremental, cfg, b, slotDeltas)
	pkg.BaseSlot = base

	all := b.DB().SnapshotStorages(pkg.Slot)
	// all is ordered by slot, so the filtered storages are its tail.
	incremental := FilterStoragesForIncremental(all, base)
	covered := all[:len(all)-len(incremental)]
	if err := pkg.stage(cfg.BankSnapshotsDir, bs, incremental, covered); err != nil {
		return nil, err
	}
	return pkg, nil
}

// NewHashOnlyAccountsPackage references the live storages of b without
// staging them.
func NewHashOnlyAccountsPackage(cfg PackageConfig, b *bank.Bank) (*AccountsPackage, error) {
	if err := validatePackageBank(b); err != nil {
		return nil, err
	}
	pkg := newPackage(PackageHashOnly, cfg, b, nil)
	pkg.Storages = accounts.StoragePaths(b.DB().SnapshotStorages(pkg.Slot))
	return pkg, nil
}

// stage links the bank snapshot and storages into a fresh staging
// directory laid out like the archive.
func (p *AccountsPackage) stage(bankSnapshotsDir string, bs BankSnapshotInfo, storages, hashOnly []*accounts.StorageEntry) (err error) {
	dir := filepath.Join(bankSnapshotsDir, StagingDirPrefix+p.ID.String())
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	snapDir := filepath.Join(dir, SnapshotsDirName, p.Slot.String())
	accountsDir := filepath.Join(dir, AccountsDirName)
	for _, d := range []string{snapDir, accountsDir} {
		if err := os.MkdirAll(d, 0750); err != nil {
			return fmt.Errorf("snapshot: create staging dir: %w", err)
		}
	}

	links := []struct{ src, dst string }{
		{bs.VersionFile(), filepath.Join(dir, VersionFileName)},
		{bs.BankFile(), BankSnapshotFile(filepath.Join(dir, SnapshotsDirName), p.Slot)},
		{bs.StatusCacheFile(), filepath.Join(dir, SnapshotsDirName, StatusCacheFileName)},
	}
	for _, l := range links {
		if err := linkOrCopy(l.src, l.dst); err != nil {
			return fmt.Errorf("snapshot: stage bank snapshot: %w", err)
		}
	}

	p.Storages, err = linkStorages(storages, accountsDir)
	if err != nil {
		return err
	}
	if len(hashOnly) > 0 {
		hashOnlyDir := filepath.Join(dir, HashOnlyDirName)
		if err := os.MkdirAll(hashOnlyDir, 0750); err != nil {
			return fmt.Errorf("snapshot: create staging dir: %w", err)
		}
		if p.HashOnlyStorages, err = linkStorages(hashOnly, hashOnlyDir); err != nil {
			return err
		}
	}

	p.StagingDir = dir
	return nil
}

func linkStorages(entries []*accounts.StorageEntry, dir string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		dst := filepath.Join(dir, e.FileName())
		if err := linkOrCopy(e.Path(), dst); err != nil {
			return nil, fmt.Errorf("snapshot: stage storage %s: %w", e.FileName(), err)
		}
		out = append(out, dst)
	}
	return out, nil
}

// linkOrCopy hard-links src to dst and falls back to copying when the
// filesystem refuses the link.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	} else if errors.Is(err, os.ErrNotExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SnapshotPackage is a verified package ready to be archived.
type SnapshotPackage struct {
	ID          ulid.ULID
	Kind        PackageKind
	Slot        domain.Slot
	BaseSlot    domain.Slot
	BlockHeight uint64
	Hash        domain.Hash
	Format      ArchiveFormat
	Version     string
	StagingDir  string
	// Members maps archive member names to staged files, in archive order.
	Members []Member
	// Superseded is the number of older packages this one replaced while
	// waiting to be archived.
	Superseded int
}

// Member is one file of an archive.
type Member struct {
	Name string
	Path string
}

// Cleanup removes the staging directory.
func (p *SnapshotPackage) Cleanup() error {
	if p.StagingDir == "" {
		return nil
	}
	return os.RemoveAll(p.StagingDir)
}

// ArchiveFileName returns the name the package is archived under.
func (p *SnapshotPackage) ArchiveFileName() string {
	if p.Kind == PackageIncremental {
		return IncrementalArchiveFileName(p.BaseSlot, p.Slot, p.Hash, p.Format)
	}
	return FullArchiveFileName(p.Slot, p.Hash, p.Format)
}

// ProcessAccountsPackage recomputes the accounts hash of pkg from its staged
// storages and checks it against the bank's recorded hash. A mismatch returns
// ErrAccountsHashMismatch. Hash-only packages return a nil SnapshotPackage.
func ProcessAccountsPackage(ctx context.Context, pkg *AccountsPackage, hasher *accounts.Hasher) (*SnapshotPackage, error) {
	paths := make([]string, 0, len(pkg.Storages)+len(pkg.HashOnlyStorages))
	paths = append(paths, pkg.HashOnlyStorages...)
	paths = append(paths, pkg.Storages...)

	got, err := hasher.HashFiles(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("snapshot: hash package %d: %w", pkg.Slot, err)
	}
	if got != pkg.ExpectedHash {
		return nil, domain.ErrAccountsHashMismatch.WithDetailsf("slot %d: computed %s, bank has %s", pkg.Slot, got, pkg.ExpectedHash)
	}
	if pkg.Kind == PackageHashOnly {
		return nil, nil
	}

	return &SnapshotPackage{
		ID:          pkg.ID,
		Kind:        pkg.Kind,
		Slot:        pkg.Slot,
		BaseSlot:    pkg.BaseSlot,
		BlockHeight: pkg.BlockHeight,
		Hash:        got,
		Format:      pkg.Format,
		Version:     pkg.Version,
		StagingDir:  pkg.StagingDir,
		Members:     archiveMembers(pkg),
	}, nil
}

func archiveMembers(pkg *AccountsPackage) []Member {
	dir := pkg.StagingDir
	members := []Member{
		{Name: VersionFileName, Path: filepath.Join(dir, VersionFileName)},
		{Name: bankMember(pkg.Slot), Path: BankSnapshotFile(filepath.Join(dir, SnapshotsDirName), pkg.Slot)},
		{Name: SnapshotsDirName + "/" + StatusCacheFileName, Path: filepath.Join(dir, SnapshotsDirName, StatusCacheFileName)},
	}
	storages := make([]Member, 0, len(pkg.Storages))
	for _, p := range pkg.Storages {
		storages = append(storages, Member{Name: AccountsDirName + "/" + filepath.Base(p), Path: p})
	}
	sort.Slice(storages, func(i, j int) bool { return storages[i].Name < storages[j].Name })
	return append(members, storages...)
}
