package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

func fullSlots(t *testing.T, dir string) []domain.Slot {
	t.Helper()
	infos, err := GetFullArchiveInfos(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []domain.Slot
	for i := len(infos) - 1; i >= 0; i-- {
		out = append(out, infos[i].Slot)
	}
	return out
}

func TestPurgeOldSnapshotArchives_RetainsNewest(t *testing.T) {
	dir := t.TempDir()
	hash := domain.HashBytes([]byte("h"))
	for slot := domain.Slot(1); slot <= 5; slot++ {
		touch(t, dir, FullArchiveFileName(slot, hash, ArchiveFormatTarZstd))
	}

	removed, err := PurgeOldSnapshotArchives(dir, 2, 2)
	if err != nil {
		t.Fatalf("PurgeOldSnapshotArchives: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %d archives, want 3", len(removed))
	}
	if diff := cmp.Diff([]domain.Slot{4, 5}, fullSlots(t, dir)); diff != "" {
		t.Errorf("retained mismatch (-want +got):\n%s", diff)
	}

	removed, err = PurgeOldSnapshotArchives(dir, 2, 2)
	if err != nil || len(removed) != 0 {
		t.Errorf("second purge removed %v (err %v), want nothing", removed, err)
	}
	if diff := cmp.Diff([]domain.Slot{4, 5}, fullSlots(t, dir)); diff != "" {
		t.Errorf("retained after second purge mismatch (-want +got):\n%s", diff)
	}
}

func TestPurgeOldSnapshotArchives_Incrementals(t *testing.T) {
	dir := t.TempDir()
	hash := domain.HashBytes([]byte("h"))

	touch(t, dir, FullArchiveFileName(10, hash, ArchiveFormatTar))
	touch(t, dir, FullArchiveFileName(20, hash, ArchiveFormatTar))
	orphan := touch(t, dir, IncrementalArchiveFileName(5, 8, hash, ArchiveFormatTar))
	for _, s := range []domain.Slot{12, 14} {
		touch(t, dir, IncrementalArchiveFileName(10, s, hash, ArchiveFormatTar))
	}
	for _, s := range []domain.Slot{22, 24, 26} {
		touch(t, dir, IncrementalArchiveFileName(20, s, hash, ArchiveFormatTar))
	}

	if _, err := PurgeOldSnapshotArchives(dir, 2, 3); err != nil {
		t.Fatalf("PurgeOldSnapshotArchives: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("incremental archive without its base should be removed")
	}

	infos, _ := GetIncrementalArchiveInfos(dir)
	var got []domain.Slot
	for _, a := range infos {
		got = append(got, a.Slot)
	}
	if diff := cmp.Diff([]domain.Slot{26, 24, 22}, got); diff != "" {
		t.Errorf("retained incrementals mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveTmpSnapshotFiles(t *testing.T) {
	dir := t.TempDir()
	keep := touch(t, dir, FullArchiveFileName(1, domain.HashBytes(nil), ArchiveFormatTar))
	touch(t, dir, TmpArchivePrefix+"x.tar")
	if err := os.MkdirAll(filepath.Join(dir, StagingDirPrefix+"abc", AccountsDirName), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, TmpBankSnapshotPrefix+"7"), 0750); err != nil {
		t.Fatal(err)
	}

	if err := RemoveTmpSnapshotFiles(dir, filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("RemoveTmpSnapshotFiles: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != filepath.Base(keep) {
		t.Errorf("left %d entries, want only %s", len(entries), filepath.Base(keep))
	}
}
