package snapshot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// DefaultSnapshotVersion is the version written into new archives.
const DefaultSnapshotVersion = "1.2.0"

var currentVersion = semver.MustParse(DefaultSnapshotVersion)

// CheckVersion accepts versions with the same major version that are not
// newer than the one this build writes.
func CheckVersion(v string) (semver.Version, error) {
	parsed, err := semver.ParseTolerant(strings.TrimSpace(v))
	if err != nil {
		return semver.Version{}, domain.ErrUnsupportedVersion.WithDetailsf("%q", v).WithCause(err)
	}
	if parsed.Major != currentVersion.Major || parsed.GT(currentVersion) {
		return semver.Version{}, domain.ErrUnsupportedVersion.WithDetailsf("%s, this build reads %d.x up to %s",
			parsed, currentVersion.Major, currentVersion)
	}
	return parsed, nil
}

// readVersionFile reads and checks the version file in dir.
func readVersionFile(dir string) (semver.Version, error) {
	b, err := os.ReadFile(filepath.Join(dir, VersionFileName))
	if err != nil {
		return semver.Version{}, domain.ErrArchiveCorrupted.WithDetails("missing version file").WithCause(err)
	}
	return CheckVersion(string(b))
}
