package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/ledgersnap/internal/core/domain"
	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

// GossipConfig configures the GossipAnnouncer.
type GossipConfig struct {
	NodeName      string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int
	Seeds         []string
	// SecretKey enables gossip encryption. It must be 16, 24 or 32 bytes.
	SecretKey []byte

	Logger *slog.Logger
}

// ArchiveHint identifies an archive a peer can serve.
type ArchiveHint struct {
	Slot     domain.Slot
	BaseSlot domain.Slot
	Hash     domain.Hash
}

// NodeArchives is what a node advertises in its gossip metadata.
type NodeArchives struct {
	Node        string
	Full        *ArchiveHint
	Incremental *ArchiveHint
}

// GossipAnnouncer advertises the newest local archives as memberlist node
// metadata.
type GossipAnnouncer struct {
	ml       *memberlist.Memberlist
	delegate *archiveDelegate
	logger   *slog.Logger

	mu       sync.Mutex
	shutdown bool
}

// NewGossipAnnouncer creates the memberlist instance and joins the seeds.
func NewGossipAnnouncer(cfg GossipConfig) (*GossipAnnouncer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	if cfg.NodeName != "" {
		mlConfig.Name = cfg.NodeName
	}
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	mlConfig.AdvertisePort = cfg.AdvertisePort
	mlConfig.SecretKey = cfg.SecretKey

	d := &archiveDelegate{}
	mlConfig.Delegate = d
	mlConfig.Logger = logger.HCLog(cfg.Logger, "memberlist").
		StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create memberlist: %w", err)
	}

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("pipeline: join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined gossip cluster",
			"node", mlConfig.Name,
			"seeds", cfg.Seeds,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started gossip (bootstrap mode)", "node", mlConfig.Name)
	}

	return &GossipAnnouncer{ml: ml, delegate: d, logger: cfg.Logger}, nil
}

// Announce records info in the local metadata and pushes the update.
func (g *GossipAnnouncer) Announce(ctx context.Context, info snapshot.ArchiveInfo) error {
	g.delegate.set(info)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := g.ml.UpdateNode(timeout); err != nil {
		return fmt.Errorf("pipeline: update gossip metadata: %w", err)
	}
	return nil
}

// Peers returns the archives advertised by every live member, including
// this node.
func (g *GossipAnnouncer) Peers() []NodeArchives {
	members := g.ml.Members()
	out := make([]NodeArchives, 0, len(members))
	for _, m := range members {
		na, err := DecodeNodeMeta(m.Meta)
		if err != nil {
			g.logger.Debug("ignoring malformed gossip metadata", "node", m.Name, "error", err)
			continue
		}
		na.Node = m.Name
		out = append(out, na)
	}
	return out
}

// LocalAddr returns the gossip address of this node.
func (g *GossipAnnouncer) LocalAddr() string {
	return g.ml.LocalNode().Address()
}

// Shutdown leaves the cluster and stops memberlist.
func (g *GossipAnnouncer) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdown {
		return nil
	}
	g.shutdown = true

	if err := g.ml.Leave(time.Second); err != nil {
		g.logger.Warn("leave gossip cluster failed", "error", err)
	}
	if err := g.ml.Shutdown(); err != nil {
		return fmt.Errorf("pipeline: shutdown memberlist: %w", err)
	}
	return nil
}

// archiveDelegate serves the node metadata to memberlist.
type archiveDelegate struct {
	mu   sync.Mutex
	meta NodeArchives
}

func (d *archiveDelegate) set(info snapshot.ArchiveInfo) {
	hint := &ArchiveHint{Slot: info.Slot, BaseSlot: info.BaseSlot, Hash: info.Hash}
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Incremental {
		d.meta.Incremental = hint
		return
	}
	d.meta.Full = hint
	// An incremental built on an older full is no longer useful.
	if d.meta.Incremental != nil && d.meta.Incremental.BaseSlot != info.Slot {
		d.meta.Incremental = nil
	}
}

// NodeMeta returns metadata about this node (up to limit bytes).
func (d *archiveDelegate) NodeMeta(limit int) []byte {
	d.mu.Lock()
	meta := EncodeNodeMeta(d.meta)
	d.mu.Unlock()
	if len(meta) > limit {
		return nil
	}
	return meta
}

func (d *archiveDelegate) NotifyMsg([]byte)                           {}
func (d *archiveDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *archiveDelegate) LocalState(join bool) []byte                { return nil }
func (d *archiveDelegate) MergeRemoteState(buf []byte, join bool)     {}

// Node metadata field numbers.
const (
	metaFull        protowire.Number = 1
	metaIncremental protowire.Number = 2

	hintSlot     protowire.Number = 1
	hintBaseSlot protowire.Number = 2
	hintHash     protowire.Number = 3
)

// EncodeNodeMeta encodes the advertised archives.
func EncodeNodeMeta(na NodeArchives) []byte {
	var b []byte
	if na.Full != nil {
		b = protowire.AppendTag(b, metaFull, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHint(*na.Full))
	}
	if na.Incremental != nil {
		b = protowire.AppendTag(b, metaIncremental, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHint(*na.Incremental))
	}
	return b
}

func encodeHint(h ArchiveHint) []byte {
	var b []byte
	b = protowire.AppendTag(b, hintSlot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Slot))
	b = protowire.AppendTag(b, hintBaseSlot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.BaseSlot))
	b = protowire.AppendTag(b, hintHash, protowire.BytesType)
	b = protowire.AppendBytes(b, h.Hash[:])
	return b
}

var errMalformedMeta = errors.New("pipeline: malformed node metadata")

// DecodeNodeMeta decodes metadata written by EncodeNodeMeta. Unknown fields
// are skipped.
func DecodeNodeMeta(b []byte) (NodeArchives, error) {
	var na NodeArchives
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return NodeArchives{}, errMalformedMeta
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != metaFull && num != metaIncremental) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return NodeArchives{}, errMalformedMeta
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return NodeArchives{}, errMalformedMeta
		}
		b = b[n:]
		h, err := decodeHint(v)
		if err != nil {
			return NodeArchives{}, err
		}
		if num == metaFull {
			na.Full = &h
		} else {
			na.Incremental = &h
		}
	}
	return na, nil
}

func decodeHint(b []byte) (ArchiveHint, error) {
	var h ArchiveHint
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ArchiveHint{}, errMalformedMeta
		}
		b = b[n:]
		switch {
		case num == hintSlot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ArchiveHint{}, errMalformedMeta
			}
			h.Slot = domain.Slot(v)
			b = b[n:]
		case num == hintBaseSlot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ArchiveHint{}, errMalformedMeta
			}
			h.BaseSlot = domain.Slot(v)
			b = b[n:]
		case num == hintHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != domain.HashSize {
				return ArchiveHint{}, errMalformedMeta
			}
			copy(h.Hash[:], v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ArchiveHint{}, errMalformedMeta
			}
			b = b[n:]
		}
	}
	return h, nil
}
