package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type archiveRow struct {
	Kind     string  `json:"kind" yaml:"kind"`
	Slot     uint64  `json:"slot" yaml:"slot"`
	BaseSlot *uint64 `json:"base_slot" yaml:"base_slot"`
	Path     string  `json:"path" yaml:"path" table:"wide"`
	Secret   string  `json:"-" yaml:"-" table:"-"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("json should give a JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("yaml should give a YAMLFormatter")
	}
	tf, ok := NewFormatter("unknown", true).(*TableFormatter)
	if !ok || !tf.Wide {
		t.Errorf("unknown format should give a wide TableFormatter, got %#v", tf)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, archiveRow{Kind: "full", Slot: 42}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"kind": "full"`) || !strings.Contains(out, `"slot": 42`) {
		t.Errorf("unexpected JSON:\n%s", out)
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLFormatter{}).Format(&buf, []archiveRow{{Kind: "incremental", Slot: 7}}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "kind: incremental") || !strings.Contains(out, "slot: 7") {
		t.Errorf("unexpected YAML:\n%s", out)
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	base := uint64(100)
	rows := []archiveRow{
		{Kind: "full", Slot: 100, Path: "/a/full", Secret: "x"},
		{Kind: "incremental", Slot: 150, BaseSlot: &base, Path: "/a/incr"},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, rows); err != nil {
		t.Fatalf("Format: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if got := strings.Fields(lines[0]); strings.Join(got, " ") != "KIND SLOT BASE_SLOT" {
		t.Errorf("headers = %v", got)
	}
	if got := strings.Fields(lines[1]); strings.Join(got, " ") != "full 100 -" {
		t.Errorf("row 1 = %v", got)
	}
	if got := strings.Fields(lines[2]); strings.Join(got, " ") != "incremental 150 100" {
		t.Errorf("row 2 = %v", got)
	}
	if strings.Contains(out, "/a/full") || strings.Contains(out, "SECRET") {
		t.Errorf("wide and hidden columns leaked:\n%s", out)
	}

	buf.Reset()
	if err := (&TableFormatter{Wide: true, NoHeaders: true}).Format(&buf, rows); err != nil {
		t.Fatalf("Format wide: %v", err)
	}
	if !strings.Contains(buf.String(), "/a/incr") || strings.Contains(buf.String(), "KIND") {
		t.Errorf("wide output without headers:\n%s", buf.String())
	}
}

func TestTableFormatter_StructAndMap(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, &archiveRow{Kind: "full", Slot: 9}); err != nil {
		t.Fatalf("Format struct: %v", err)
	}
	if !strings.Contains(buf.String(), "FIELD") || !strings.Contains(buf.String(), "kind") {
		t.Errorf("struct table:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, map[string]int{"incremental": 3, "full": 2}); err != nil {
		t.Fatalf("Format map: %v", err)
	}
	if got := strings.Fields(buf.String()); strings.Join(got, " ") != "full 2 incremental 3" {
		t.Errorf("map rows = %v, want sorted by key", got)
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatalf("Format scalar: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("scalar should fall back to JSON, got %q", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("nil = %q, %v", buf.String(), err)
	}
}

func TestTable_Render(t *testing.T) {
	tbl := &Table{}
	tbl.SetHeaders("SLOT", "HASH")
	tbl.AddRow("1", "abc")
	var buf bytes.Buffer
	if err := tbl.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.String() != "SLOT  HASH\n1     abc\n" {
		t.Errorf("Render = %q", buf.String())
	}
}

func TestTableFormatter_CellKinds(t *testing.T) {
	rows := []struct {
		D  time.Duration `json:"d"`
		T  time.Time     `json:"t"`
		L  []string      `json:"l"`
		B  bool          `json:"b"`
		F  float64       `json:"f"`
		E  string        `json:"e"`
		NI any           `json:"ni"`
	}{{D: 1500 * time.Millisecond, L: []string{"a", "b"}, B: true, F: 1.5}}

	var buf bytes.Buffer
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, rows); err != nil {
		t.Fatalf("Format: %v", err)
	}
	got := strings.Fields(buf.String())
	want := []string{"1.5s", "-", "a,b", "true", "1.50", "-", "-"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("cells = %v, want %v", got, want)
	}
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "verify", 2048)
	bar.Add(1024)
	if !strings.Contains(buf.String(), " 50%") || !strings.Contains(buf.String(), "1.0 KB/2.0 KB") {
		t.Errorf("half-way render = %q", buf.String())
	}
	bar.Finish()
	if !strings.Contains(buf.String(), "100%") || !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("finished render = %q", buf.String())
	}

	buf.Reset()
	NewProgressBar(&buf, "scan", 0).Add(10)
	if buf.String() != "\rscan 10 B" {
		t.Errorf("unknown total render = %q", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{1 << 20, "1.0 MB"},
		{1 << 40, "1.0 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSpinner(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "restoring")
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Success("restored")
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "restoring") {
		t.Errorf("spinner never drew its message: %q", out)
	}
	if !strings.HasSuffix(out, "✓ restored\n") {
		t.Errorf("output should end with the success line: %q", out)
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "idle")
	s.Fail("nothing to do")
	if !strings.Contains(buf.String(), "✗ nothing to do") {
		t.Errorf("Fail output = %q", buf.String())
	}
}
