package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgersnap/internal/cli/output"
	"github.com/yndnr/ledgersnap/internal/node"
)

// NodeCommand returns the node subcommand group. Its commands query a
// running node over its admin endpoint.
func NodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "Query a running node",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the fork set, newest archives and gossip peers",
				Action: nodeStatus,
			},
			{
				Name:   "health",
				Usage:  "Check that the node answers",
				Action: nodeHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check that the node has restored and is serving",
				Action: nodeReady,
			},
		},
	}
}

func nodeStatus(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	var st node.Status
	if err := g.client().GetJSON(c.Context, "/status", &st); err != nil {
		return fmt.Errorf("%s: %w", g.Node, err)
	}
	if g.Output != output.FormatTable {
		return g.print(c, st)
	}

	w := stdout(c)
	t := &output.Table{}
	t.AddRow("Node", st.NodeID)
	t.AddRow("Ready", fmt.Sprintf("%t", st.Ready))
	t.AddRow("Uptime", fmt.Sprintf("%ds", st.UptimeSeconds))
	t.AddRow("Root slot", fmt.Sprintf("%d", st.RootSlot))
	t.AddRow("Working slot", fmt.Sprintf("%d", st.WorkingSlot))
	t.AddRow("Live banks", fmt.Sprintf("%d", st.LiveBanks))
	t.AddRow("Pending requests", fmt.Sprintf("%d", st.PendingRequests))
	if st.LastFullSnapshotSlot != nil {
		t.AddRow("Last full snapshot", fmt.Sprintf("%d", *st.LastFullSnapshotSlot))
	}
	if st.FullArchive != nil {
		t.AddRow("Full archive", st.FullArchive.File)
	}
	if st.IncrementalArchive != nil {
		t.AddRow("Incremental archive", st.IncrementalArchive.File)
	}
	for _, f := range st.RestoredFrom {
		t.AddRow("Restored from", f)
	}
	if st.PipelineError != "" {
		t.AddRow("Pipeline error", st.PipelineError)
	}
	if err := t.RenderWithOptions(w, true); err != nil {
		return err
	}

	if len(st.Peers) == 0 {
		return nil
	}
	peers := &output.Table{Headers: []string{"PEER", "FULL", "INCREMENTAL"}}
	for _, p := range st.Peers {
		full, incr := "-", "-"
		if p.Full != nil {
			full = fmt.Sprintf("%d", p.Full.Slot)
		}
		if p.Incremental != nil {
			incr = fmt.Sprintf("%d (base %d)", p.Incremental.Slot, p.Incremental.BaseSlot)
		}
		peers.AddRow(p.Node, full, incr)
	}
	fmt.Fprintln(w)
	return peers.Render(w)
}

type probeResult struct {
	Node   string `json:"node" yaml:"node"`
	Status string `json:"status" yaml:"status"`
}

func nodeHealth(c *cli.Context) error { return probe(c, "/health") }

func nodeReady(c *cli.Context) error { return probe(c, "/ready") }

func probe(c *cli.Context, path string) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	client := g.client()
	var res probeResult
	if err := client.GetJSON(c.Context, path, &res); err != nil {
		return fmt.Errorf("%s%s: %w", client.BaseURL(), path, err)
	}
	res.Node = client.BaseURL()
	if g.Output != output.FormatTable {
		return g.print(c, res)
	}
	fmt.Fprintf(stdout(c), "✓ %s is %s\n", res.Node, res.Status)
	return nil
}
