package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// BankSnapshotInfo describes a bank snapshot directory.
type BankSnapshotInfo struct {
	Slot domain.Slot
	// Dir is <bank_snapshots_dir>/<slot>.
	Dir string
}

// BankFile returns the path of the bank fields file.
func (i BankSnapshotInfo) BankFile() string { return filepath.Join(i.Dir, i.Slot.String()) }

// StatusCacheFile returns the path of the status cache file.
func (i BankSnapshotInfo) StatusCacheFile() string { return filepath.Join(i.Dir, StatusCacheFileName) }

// VersionFile returns the path of the version file.
func (i BankSnapshotInfo) VersionFile() string { return filepath.Join(i.Dir, VersionFileName) }

// AddBankSnapshot serializes b and slotDeltas into
// <bankSnapshotsDir>/<slot>/. The directory is assembled under a temporary
// name and renamed into place, replacing an older snapshot of the same slot.
func AddBankSnapshot(bankSnapshotsDir string, b *bank.Bank, slotDeltas []bank.SlotDelta, version string) (BankSnapshotInfo, error) {
	fields := b.Fields()
	slot := fields.Slot

	if err := os.MkdirAll(bankSnapshotsDir, 0750); err != nil {
		return BankSnapshotInfo{}, fmt.Errorf("snapshot: create bank snapshots dir: %w", err)
	}

	tmp := filepath.Join(bankSnapshotsDir, fmt.Sprintf("%s%d-%s", TmpBankSnapshotPrefix, slot, ulid.Make()))
	if err := os.Mkdir(tmp, 0750); err != nil {
		return BankSnapshotInfo{}, fmt.Errorf("snapshot: create temp bank snapshot: %w", err)
	}
	defer os.RemoveAll(tmp)

	files := []struct {
		name string
		data []byte
	}{
		{slot.String(), EncodeBankFields(fields)},
		{StatusCacheFileName, EncodeSlotDeltas(slotDeltas)},
		{VersionFileName, []byte(version + "\n")},
	}
	for _, f := range files {
		if err := writeFileSync(filepath.Join(tmp, f.name), f.data); err != nil {
			return BankSnapshotInfo{}, fmt.Errorf("snapshot: write %s: %w", f.name, err)
		}
	}

	final := BankSnapshotDir(bankSnapshotsDir, slot)
	if err := os.RemoveAll(final); err != nil {
		return BankSnapshotInfo{}, fmt.Errorf("snapshot: replace bank snapshot %d: %w", slot, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return BankSnapshotInfo{}, fmt.Errorf("snapshot: rename bank snapshot %d: %w", slot, err)
	}
	return BankSnapshotInfo{Slot: slot, Dir: final}, nil
}

// GetBankSnapshots lists the complete bank snapshots in bankSnapshotsDir,
// ascending by slot.
func GetBankSnapshots(bankSnapshotsDir string) ([]BankSnapshotInfo, error) {
	entries, err := os.ReadDir(bankSnapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []BankSnapshotInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slot, err := domain.ParseSlot(e.Name())
		if err != nil {
			continue
		}
		info := BankSnapshotInfo{Slot: slot, Dir: filepath.Join(bankSnapshotsDir, e.Name())}
		if _, err := os.Stat(info.BankFile()); err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// GetHighestBankSnapshot returns the bank snapshot with the highest slot.
func GetHighestBankSnapshot(bankSnapshotsDir string) (BankSnapshotInfo, error) {
	infos, err := GetBankSnapshots(bankSnapshotsDir)
	if err != nil {
		return BankSnapshotInfo{}, err
	}
	if len(infos) == 0 {
		return BankSnapshotInfo{}, domain.ErrBankSnapshotNotFound.WithDetailsf("in %s", bankSnapshotsDir)
	}
	return infos[len(infos)-1], nil
}

// RemoveBankSnapshot deletes the bank snapshot of slot.
func RemoveBankSnapshot(bankSnapshotsDir string, slot domain.Slot) error {
	dir := BankSnapshotDir(bankSnapshotsDir, slot)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrBankSnapshotNotFound.WithDetailsf("slot %d", slot)
		}
		return err
	}
	return os.RemoveAll(dir)
}

// PurgeOldBankSnapshots keeps the newest keep bank snapshots (at least one)
// and returns the slots it removed.
func PurgeOldBankSnapshots(bankSnapshotsDir string, keep int) ([]domain.Slot, error) {
	keep = max(keep, 1)
	infos, err := GetBankSnapshots(bankSnapshotsDir)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}

	var (
		removed []domain.Slot
		errs    []error
	)
	for _, info := range infos[:len(infos)-keep] {
		if err := os.RemoveAll(info.Dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, info.Slot)
	}
	return removed, errors.Join(errs...)
}

// LoadBankSnapshot reads the bank fields and status cache of a bank
// snapshot directory.
func LoadBankSnapshot(info BankSnapshotInfo) (bank.Fields, []bank.SlotDelta, error) {
	if _, err := readVersionFile(info.Dir); err != nil {
		return bank.Fields{}, nil, err
	}
	raw, err := os.ReadFile(info.BankFile())
	if err != nil {
		return bank.Fields{}, nil, fmt.Errorf("snapshot: read bank file: %w", err)
	}
	fields, err := DecodeBankFields(raw)
	if err != nil {
		return bank.Fields{}, nil, err
	}
	if fields.Slot != info.Slot {
		return bank.Fields{}, nil, domain.ErrArchiveCorrupted.WithDetailsf("bank file of slot %d holds slot %d", info.Slot, fields.Slot)
	}

	raw, err = os.ReadFile(info.StatusCacheFile())
	if err != nil {
		return bank.Fields{}, nil, fmt.Errorf("snapshot: read status cache: %w", err)
	}
	deltas, err := DecodeSlotDeltas(raw)
	if err != nil {
		return bank.Fields{}, nil, err
	}
	return fields, deltas, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
