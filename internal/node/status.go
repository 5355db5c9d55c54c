package node

import (
	"time"

	"github.com/yndnr/ledgersnap/internal/pipeline"
	"github.com/yndnr/ledgersnap/internal/snapshot"
)

// ArchiveStatus describes one archive on disk.
type ArchiveStatus struct {
	Slot     uint64 `json:"slot" yaml:"slot"`
	BaseSlot uint64 `json:"base_slot,omitempty" yaml:"base_slot,omitempty"`
	Hash     string `json:"hash" yaml:"hash"`
	File     string `json:"file" yaml:"file"`
}

// PeerStatus is what a gossip member advertises.
type PeerStatus struct {
	Node        string         `json:"node" yaml:"node"`
	Full        *ArchiveStatus `json:"full,omitempty" yaml:"full,omitempty"`
	Incremental *ArchiveStatus `json:"incremental,omitempty" yaml:"incremental,omitempty"`
}

// Status is the node view served on /status.
type Status struct {
	NodeID               string         `json:"node_id" yaml:"node_id"`
	Ready                bool           `json:"ready" yaml:"ready"`
	UptimeSeconds        int64          `json:"uptime_seconds" yaml:"uptime_seconds"`
	RootSlot             uint64         `json:"root_slot" yaml:"root_slot"`
	WorkingSlot          uint64         `json:"working_slot" yaml:"working_slot"`
	LiveBanks            int            `json:"live_banks" yaml:"live_banks"`
	LastFullSnapshotSlot *uint64        `json:"last_full_snapshot_slot,omitempty" yaml:"last_full_snapshot_slot,omitempty"`
	PendingRequests      int            `json:"pending_requests" yaml:"pending_requests"`
	FullArchive          *ArchiveStatus `json:"full_archive,omitempty" yaml:"full_archive,omitempty"`
	IncrementalArchive   *ArchiveStatus `json:"incremental_archive,omitempty" yaml:"incremental_archive,omitempty"`
	RestoredFrom         []string       `json:"restored_from,omitempty" yaml:"restored_from,omitempty"`
	Peers                []PeerStatus   `json:"peers,omitempty" yaml:"peers,omitempty"`
	PipelineError        string         `json:"pipeline_error,omitempty" yaml:"pipeline_error,omitempty"`
}

// Status reports the fork set, the newest archives on disk and, with
// gossip enabled, what peers advertise.
func (n *Node) Status() Status {
	st := Status{
		NodeID: n.cfg.Node.ID,
		Ready:  n.ready.Load(),
	}
	if !n.startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(n.startedAt).Seconds())
	}
	if n.forks == nil {
		return st
	}

	st.RootSlot = uint64(n.forks.Root())
	st.WorkingSlot = uint64(n.forks.WorkingBank().Slot())
	st.LiveBanks = len(n.forks.Banks())
	st.PendingRequests = n.services.Requests.Len()
	if s, ok := n.services.Handler.LastFullSnapshotSlot(); ok {
		v := uint64(s)
		st.LastFullSnapshotSlot = &v
	}
	if err := n.services.Err(); err != nil {
		st.PipelineError = err.Error()
	}

	if full, err := snapshot.GetHighestFullArchive(n.cfg.Snapshot.ArchivesDir); err == nil {
		st.FullArchive = archiveStatus(full)
		if incr, ok, err := snapshot.GetHighestIncrementalArchive(n.cfg.Snapshot.ArchivesDir, full.Slot); err == nil && ok {
			st.IncrementalArchive = archiveStatus(incr)
		}
	}

	if n.restored != nil {
		st.RestoredFrom = append(st.RestoredFrom, n.restored.Full.FileName())
		if n.restored.Incremental != nil {
			st.RestoredFrom = append(st.RestoredFrom, n.restored.Incremental.FileName())
		}
	}

	if n.gossip != nil {
		for _, p := range n.gossip.Peers() {
			st.Peers = append(st.Peers, PeerStatus{
				Node:        p.Node,
				Full:        hintStatus(p.Full),
				Incremental: hintStatus(p.Incremental),
			})
		}
	}
	return st
}

func archiveStatus(a snapshot.ArchiveInfo) *ArchiveStatus {
	return &ArchiveStatus{
		Slot:     uint64(a.Slot),
		BaseSlot: uint64(a.BaseSlot),
		Hash:     a.Hash.String(),
		File:     a.FileName(),
	}
}

func hintStatus(h *pipeline.ArchiveHint) *ArchiveStatus {
	if h == nil {
		return nil
	}
	return &ArchiveStatus{
		Slot:     uint64(h.Slot),
		BaseSlot: uint64(h.BaseSlot),
		Hash:     h.Hash.String(),
	}
}
