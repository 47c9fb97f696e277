package capture

import (
	"strings"
	"testing"
	"time"

	"github.com/onnwee/fwlog/db"
)

func TestRenderLog(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 45, 0, time.Local).Unix()
	items := []db.Item{
		{DisplayName: "Alice", AuthorID: "100", Timestamp: ts, Text: "hello"},
		{DisplayName: "Bob", AuthorID: "200", Timestamp: ts + 60, Text: "line one\nline two"},
	}
	got := RenderLog(items)
	want := "Alice(100) 2025/06/01 12:30:45\n hello\n\n" +
		"Bob(200) 2025/06/01 12:31:45\n line one\n line two"
	if got != want {
		t.Errorf("RenderLog =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderLogEmpty(t *testing.T) {
	if got := RenderLog(nil); got != "" {
		t.Errorf("RenderLog(nil) = %q", got)
	}
}

// Blocks are separated by a blank line and multi-line bodies are indented, so
// splitting on the separator recovers one block per item in order.
func TestRenderLogBlockStructure(t *testing.T) {
	items := []db.Item{
		{DisplayName: "A", AuthorID: "1", Timestamp: 1700000000, Text: "first"},
		{DisplayName: "B", AuthorID: "2", Timestamp: 1700000001, Text: "second\nstill second"},
		{DisplayName: "C", AuthorID: "3", Timestamp: 1700000002, Text: "third"},
	}
	blocks := strings.Split(RenderLog(items), "\n\n")
	if len(blocks) != len(items) {
		t.Fatalf("blocks = %d, want %d", len(blocks), len(items))
	}
	for i, b := range blocks {
		if !strings.HasPrefix(b, items[i].DisplayName+"(") {
			t.Errorf("block %d out of order: %q", i, b)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 59, 0, time.Local).Unix()
	if got := FormatTimestamp(ts); got != "2024/12/31 23:59:59" {
		t.Errorf("FormatTimestamp = %q", got)
	}
}
