package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// Retention defaults.
const (
	DefaultMaxFullArchivesToRetain        = 2
	DefaultMaxIncrementalArchivesToRetain = 4
	DefaultMaxBankSnapshotsToRetain       = 1
)

// PurgeOldSnapshotArchives keeps the newest maxFull full archives and the
// newest maxIncremental incremental archives in dir. Incremental archives
// whose base full archive is no longer present are removed as well. Values
// below one are treated as one. The removed paths are returned; running the
// purge again removes nothing.
func PurgeOldSnapshotArchives(dir string, maxFull, maxIncremental int) ([]string, error) {
	maxFull = max(maxFull, 1)
	maxIncremental = max(maxIncremental, 1)

	fulls, err := GetFullArchiveInfos(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list full archives: %w", err)
	}
	incrementals, err := GetIncrementalArchiveInfos(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list incremental archives: %w", err)
	}

	var doomed []string
	retained := make(map[domain.Slot]struct{}, maxFull)
	for i, a := range fulls {
		if i < maxFull {
			retained[a.Slot] = struct{}{}
			continue
		}
		doomed = append(doomed, a.Path)
	}

	sort.SliceStable(incrementals, func(i, j int) bool { return incrementals[i].Slot > incrementals[j].Slot })
	kept := 0
	for _, a := range incrementals {
		if _, ok := retained[a.BaseSlot]; ok && kept < maxIncremental {
			kept++
			continue
		}
		doomed = append(doomed, a.Path)
	}

	var (
		removed []string
		errs    []error
	)
	for _, p := range doomed {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}

// RemoveTmpSnapshotFiles deletes leftovers of interrupted writes from dirs:
// temporary archives, half-written bank snapshots and package staging
// directories.
func RemoveTmpSnapshotFiles(dirs ...string) error {
	var errs []error
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, TmpArchivePrefix) &&
				!strings.HasPrefix(name, TmpBankSnapshotPrefix) &&
				!strings.HasPrefix(name, StagingDirPrefix) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
