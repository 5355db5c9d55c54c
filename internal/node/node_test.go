package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/ledgersnap/internal/accounts"
	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/pipeline"
	"github.com/yndnr/ledgersnap/internal/server/config"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

func testConfig(dataDir string) *config.NodeConfig {
	cfg := config.Default()
	cfg.Node.ID = "lsnode-test"
	cfg.Node.DataDir = dataDir
	cfg.HTTP.Addr = "127.0.0.1:0"

	cfg.Snapshot.ArchiveFormat = "tar"
	cfg.Snapshot.AccountsHashInterval = 2
	cfg.Snapshot.FullSnapshotInterval = 8
	cfg.Snapshot.IncrementalSnapshotInterval = 4
	cfg.Snapshot.LoopInterval = 10 * time.Millisecond
	cfg.Snapshot.HashWorkers = 2
	cfg.Accounts.Index = accounts.IndexConfig{InMemory: true}

	cfg.Producer.SlotInterval = time.Hour
	cfg.Producer.RootDistance = 2
	cfg.Producer.ForkEvery = 3
	cfg.Producer.TransactionsPerSlot = 4
	cfg.Producer.GenesisAccounts = 4
	cfg.Producer.GenesisLamports = 1000
	return cfg
}

func startNode(t *testing.T, cfg *config.NodeConfig, announcer pipeline.Announcer) *Node {
	t.Helper()
	n, err := New(cfg, Options{
		Logger:    logger.Discard(),
		OnFatal:   func(err error) { t.Errorf("fatal: %v", err) },
		Announcer: announcer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		n.Close(context.Background())
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Close(context.Background()) })
	return n
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestNode_SnapshotAndRestart(t *testing.T) {
	dir := t.TempDir()
	announcer := pipeline.NewChannelAnnouncer(64)
	n := startNode(t, testConfig(dir), announcer)

	if n.Restored() != nil {
		t.Fatal("fresh node should start from genesis")
	}
	if n.Forks().Root() != 0 {
		t.Fatalf("genesis root = %d, want 0", n.Forks().Root())
	}

	for i := 0; i < 20; i++ {
		if err := n.Producer().Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	deadline := time.After(20 * time.Second)
	for done := false; !done; {
		select {
		case info := <-announcer.Announcements():
			done = !info.Incremental
		case <-deadline:
			t.Fatal("no full archive announced")
		}
	}

	base := "http://" + n.HTTPAddr()
	if code := getJSON(t, base+"/ready", nil); code != http.StatusOK {
		t.Errorf("/ready = %d, want 200", code)
	}
	var st Status
	if code := getJSON(t, base+"/status", &st); code != http.StatusOK {
		t.Fatalf("/status = %d, want 200", code)
	}
	if st.NodeID != "lsnode-test" || !st.Ready {
		t.Errorf("status node %q ready %v", st.NodeID, st.Ready)
	}
	if st.RootSlot != uint64(n.Forks().Root()) {
		t.Errorf("status root %d, want %d", st.RootSlot, n.Forks().Root())
	}
	if st.FullArchive == nil {
		t.Error("status should report the full archive")
	}
	if st.LastFullSnapshotSlot == nil {
		t.Error("status should report the last full snapshot slot")
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "ledgersnap_archives_count") {
		t.Error("/metrics should expose the archive inventory")
	}

	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg := testConfig(dir)
	if err := config.ResolvePaths(cfg); err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	full, err := snapshot.GetHighestFullArchive(cfg.Snapshot.ArchivesDir)
	if err != nil {
		t.Fatalf("GetHighestFullArchive: %v", err)
	}
	want := full.Slot
	incr, ok, err := snapshot.GetHighestIncrementalArchive(cfg.Snapshot.ArchivesDir, full.Slot)
	if err != nil {
		t.Fatalf("GetHighestIncrementalArchive: %v", err)
	}
	if ok {
		want = incr.Slot
	}

	restarted := startNode(t, cfg, nil)
	res := restarted.Restored()
	if res == nil {
		t.Fatal("restarted node should restore from archives")
	}
	if res.Full.Slot != full.Slot {
		t.Errorf("restored full slot %d, want %d", res.Full.Slot, full.Slot)
	}
	if got := restarted.Forks().Root(); got != want {
		t.Errorf("restored root %d, want %d", got, want)
	}
	if got := restarted.Forks().RootBank().Capitalization(); got != 4000 {
		t.Errorf("restored capitalization %d, want 4000", got)
	}
	if restarted.Status().RestoredFrom == nil {
		t.Error("status should list the restored archives")
	}

	if err := restarted.Producer().Step(); err != nil {
		t.Fatalf("Step after restore: %v", err)
	}
	if restarted.Producer().Tip() <= want {
		t.Errorf("tip %d should pass the restored root %d", restarted.Producer().Tip(), want)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Snapshot.IncrementalSnapshotInterval = 16

	if _, err := New(cfg, Options{Logger: logger.Discard()}); err == nil {
		t.Fatal("New should reject an incremental interval above the full interval")
	}
	if _, err := New(nil, Options{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("New(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestNode_LifecycleOrder(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Producer.Enabled = false
	cfg.HTTP.Addr = ""

	n, err := New(cfg, Options{Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(context.Background()); err == nil {
		t.Error("Start before Recover should fail")
	}
	if err := n.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if err := n.Recover(context.Background()); err == nil {
		t.Error("second Recover should fail")
	}
	if n.Producer() != nil {
		t.Error("producer should be nil when disabled")
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := n.Status(); !st.Ready || st.WorkingSlot != 0 {
		t.Errorf("status ready %v working slot %d", st.Ready, st.WorkingSlot)
	}
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if n.Status().Ready {
		t.Error("closed node should not be ready")
	}
}
