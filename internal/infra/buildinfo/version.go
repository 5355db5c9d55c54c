package buildinfo

import (
	"runtime"
	"runtime/debug"

	"github.com/yndnr/ledgersnap/internal/snapshot"
)

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version         string `json:"version" yaml:"version"`
	Commit          string `json:"commit" yaml:"commit"`
	BuildTime       string `json:"build_time" yaml:"build_time"`
	GoVersion       string `json:"go_version" yaml:"go_version"`
	SnapshotVersion string `json:"snapshot_version" yaml:"snapshot_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:         Version,
		Commit:          commit(),
		BuildTime:       BuildTime,
		GoVersion:       runtime.Version(),
		SnapshotVersion: snapshot.DefaultSnapshotVersion,
	}
}

// String returns a formatted version string.
func String() string {
	return Version + " (" + commit() + ") built at " + BuildTime
}

func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return Commit
}
