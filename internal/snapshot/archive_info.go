package snapshot

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// ArchiveInfo describes an archive on disk, as parsed from its file name.
type ArchiveInfo struct {
	Path   string
	Slot   domain.Slot
	Hash   domain.Hash
	Format ArchiveFormat

	// BaseSlot is set for incremental archives.
	BaseSlot    domain.Slot
	Incremental bool
}

// FileName returns the base name of the archive.
func (a ArchiveInfo) FileName() string { return filepath.Base(a.Path) }

// ParseArchivePath builds an ArchiveInfo from a full or incremental archive
// path.
func ParseArchivePath(path string) (ArchiveInfo, error) {
	name := filepath.Base(path)
	if slot, hash, format, err := ParseFullArchiveFileName(name); err == nil {
		return ArchiveInfo{Path: path, Slot: slot, Hash: hash, Format: format}, nil
	}
	base, slot, hash, format, err := ParseIncrementalArchiveFileName(name)
	if err != nil {
		return ArchiveInfo{}, err
	}
	return ArchiveInfo{Path: path, Slot: slot, Hash: hash, Format: format, BaseSlot: base, Incremental: true}, nil
}

// listArchives returns every well-formed archive in dir. Temporary and
// unrecognised files are ignored. A missing directory has no archives.
func listArchives(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := ParseArchivePath(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// GetFullArchiveInfos lists the full archives in dir, highest slot first.
func GetFullArchiveInfos(dir string) ([]ArchiveInfo, error) {
	all, err := listArchives(dir)
	if err != nil {
		return nil, err
	}
	var out []ArchiveInfo
	for _, a := range all {
		if !a.Incremental {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot > out[j].Slot })
	return out, nil
}

// GetIncrementalArchiveInfos lists the incremental archives in dir, highest
// base slot first and highest slot first within a base.
func GetIncrementalArchiveInfos(dir string) ([]ArchiveInfo, error) {
	all, err := listArchives(dir)
	if err != nil {
		return nil, err
	}
	var out []ArchiveInfo
	for _, a := range all {
		if a.Incremental {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseSlot != out[j].BaseSlot {
			return out[i].BaseSlot > out[j].BaseSlot
		}
		return out[i].Slot > out[j].Slot
	})
	return out, nil
}

// GetHighestFullArchive returns the full archive with the highest slot.
func GetHighestFullArchive(dir string) (ArchiveInfo, error) {
	infos, err := GetFullArchiveInfos(dir)
	if err != nil {
		return ArchiveInfo{}, err
	}
	if len(infos) == 0 {
		return ArchiveInfo{}, domain.ErrNoFullArchive.WithDetailsf("in %s", dir)
	}
	return infos[0], nil
}

// GetHighestIncrementalArchive returns the incremental archive with the
// highest slot built on baseSlot. ok is false when there is none.
func GetHighestIncrementalArchive(dir string, baseSlot domain.Slot) (ArchiveInfo, bool, error) {
	infos, err := GetIncrementalArchiveInfos(dir)
	if err != nil {
		return ArchiveInfo{}, false, err
	}
	for _, a := range infos {
		if a.BaseSlot == baseSlot {
			return a, true, nil
		}
	}
	return ArchiveInfo{}, false, nil
}
