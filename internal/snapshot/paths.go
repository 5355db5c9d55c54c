package snapshot

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// Archive member and directory names.
const (
	VersionFileName     = "version"
	StatusCacheFileName = "status_cache"
	SnapshotsDirName    = "snapshots"
	AccountsDirName     = "accounts"

	// TmpArchivePrefix marks archives still being written.
	TmpArchivePrefix = "tmp-snapshot-archive-"
	// TmpBankSnapshotPrefix marks bank snapshot directories still being
	// written.
	TmpBankSnapshotPrefix = "tmp-bank-snapshot-"
	// StagingDirPrefix names package staging directories.
	StagingDirPrefix = "snapshot-links-"
	// HashOnlyDirName holds storages only needed to recompute the hash of an
	// incremental package.
	HashOnlyDirName = "hash-only"

	fullArchivePrefix        = "snapshot-"
	incrementalArchivePrefix = "incremental-snapshot-"
)

var (
	fullArchiveRe        = regexp.MustCompile(`^snapshot-(\d+)-([0-9a-f]{64})\.(tar|tar\.gz|tar\.zst)$`)
	incrementalArchiveRe = regexp.MustCompile(`^incremental-snapshot-(\d+)-(\d+)-([0-9a-f]{64})\.(tar|tar\.gz|tar\.zst)$`)
)

// FullArchiveFileName returns the file name of a full archive.
func FullArchiveFileName(slot domain.Slot, hash domain.Hash, format ArchiveFormat) string {
	return fmt.Sprintf("%s%d-%s.%s", fullArchivePrefix, slot, hash, format.Extension())
}

// IncrementalArchiveFileName returns the file name of an incremental archive.
func IncrementalArchiveFileName(base, slot domain.Slot, hash domain.Hash, format ArchiveFormat) string {
	return fmt.Sprintf("%s%d-%d-%s.%s", incrementalArchivePrefix, base, slot, hash, format.Extension())
}

// ParseFullArchiveFileName parses a name produced by FullArchiveFileName.
func ParseFullArchiveFileName(name string) (domain.Slot, domain.Hash, ArchiveFormat, error) {
	m := fullArchiveRe.FindStringSubmatch(name)
	if m == nil {
		return 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name)
	}
	slot, err := domain.ParseSlot(m[1])
	if err != nil {
		return 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name).WithCause(err)
	}
	hash, err := domain.ParseHash(m[2])
	if err != nil {
		return 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name).WithCause(err)
	}
	format, err := ParseArchiveFormat(m[3])
	if err != nil {
		return 0, domain.Hash{}, 0, err
	}
	return slot, hash, format, nil
}

// ParseIncrementalArchiveFileName parses a name produced by
// IncrementalArchiveFileName.
func ParseIncrementalArchiveFileName(name string) (base, slot domain.Slot, hash domain.Hash, format ArchiveFormat, err error) {
	m := incrementalArchiveRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name)
	}
	if base, err = domain.ParseSlot(m[1]); err != nil {
		return 0, 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name).WithCause(err)
	}
	if slot, err = domain.ParseSlot(m[2]); err != nil {
		return 0, 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name).WithCause(err)
	}
	if slot <= base {
		return 0, 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q: slot must exceed base", name)
	}
	if hash, err = domain.ParseHash(m[3]); err != nil {
		return 0, 0, domain.Hash{}, 0, domain.ErrInvalidArchiveName.WithDetailsf("%q", name).WithCause(err)
	}
	if format, err = ParseArchiveFormat(m[4]); err != nil {
		return 0, 0, domain.Hash{}, 0, err
	}
	return base, slot, hash, format, nil
}

// BankSnapshotDir returns <bankSnapshotsDir>/<slot>.
func BankSnapshotDir(bankSnapshotsDir string, slot domain.Slot) string {
	return filepath.Join(bankSnapshotsDir, slot.String())
}

// BankSnapshotFile returns the bank fields file inside a bank snapshot
// directory.
func BankSnapshotFile(bankSnapshotsDir string, slot domain.Slot) string {
	return filepath.Join(BankSnapshotDir(bankSnapshotsDir, slot), slot.String())
}

// bankMember returns the archive member name of the bank fields file.
func bankMember(slot domain.Slot) string {
	return SnapshotsDirName + "/" + slot.String() + "/" + slot.String()
}
