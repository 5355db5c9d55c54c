package buildinfo

import (
	"runtime"
	"testing"

	"github.com/yndnr/ledgersnap/internal/snapshot"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() = %+v, fields should not be empty", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.SnapshotVersion != snapshot.DefaultSnapshotVersion {
		t.Errorf("SnapshotVersion = %q", info.SnapshotVersion)
	}
}

func TestString(t *testing.T) {
	expected := Version + " (" + Get().Commit + ") built at " + BuildTime
	if s := String(); s != expected {
		t.Errorf("String() = %q, want %q", s, expected)
	}
}

func TestCommit_Override(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })

	Commit = "abc123"
	if got := Get().Commit; got != "abc123" {
		t.Errorf("Commit = %q, want abc123", got)
	}
}
