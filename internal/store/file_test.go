package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipnet-mesh/meshbot/internal/models"
)

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	appendMsg(t, s, "a1b2c3d4e5f6", "direct", models.RoleUser, "hello", "a1b2c3d4e5f6", 100)
	appendMsg(t, s, "42", "channel", models.RoleUser, "hi all", "0fedcba98765", 101)

	// Node conversations live under an 8-character identity prefix dir.
	if _, err := os.Stat(filepath.Join(dir, "nodes", "a1b2c3d4", "messages.txt")); err != nil {
		t.Fatalf("node message log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "channels", "42", "messages.txt")); err != nil {
		t.Fatalf("channel message log missing: %v", err)
	}

	if err := s.AppendEvent(ctx, &models.EventRecord{Timestamp: 100, EventType: models.EventAdvertisement, NodeID: "a1b2c3d4e5f6"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "events.log")); err != nil {
		t.Fatalf("event log missing: %v", err)
	}
}

func TestFileMessageLineFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	appendMsg(t, s, "42", "channel", models.RoleUser, "status | ok", "a1b2c3d4e5f6", 1700000000.5)

	data, err := os.ReadFile(filepath.Join(dir, "channels", "42", "messages.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	if line != `1700000000.5|channel|user|status \| ok|a1b2c3d4e5f6` {
		t.Fatalf("unexpected line format: %q", line)
	}
}

func TestFileCorruptLineSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	appendMsg(t, s, "42", "channel", models.RoleUser, "good one", "n1", 100)

	// Inject a truncated record and a garbage timestamp by hand.
	path := filepath.Join(dir, "channels", "42", "messages.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not|enough|fields\n")
	f.WriteString("garbage|channel|user|x|n1\n")
	f.Close()

	appendMsg(t, s, "42", "channel", models.RoleUser, "good two", "n1", 101)

	msgs, err := s.ConversationMessages(ctx, "42", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected corrupt lines skipped, got %d messages", len(msgs))
	}
	if msgs[0].Content != "good one" || msgs[1].Content != "good two" {
		t.Fatalf("surviving messages wrong: %+v", msgs)
	}
}

func TestFileNodeMetadataOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	n := &models.NodeRecord{Identity: "a1b2c3d4e5f6", Name: "alpha", FirstSeen: 10, LastSeen: 20}
	if err := s.PutNode(ctx, n); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "nodes", "a1b2c3d4", "node.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"alpha"`) {
		t.Fatalf("node.json missing name: %s", data)
	}
}

func TestFileTrimLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := s.AppendEvent(ctx, &models.EventRecord{Timestamp: float64(100 + i), EventType: models.EventTopology, NodeID: "a1b2c3d4e5f6"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.TrimEvents(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "events.log.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after trim")
	}
	events, _ := s.RecentEvents(ctx, 0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after trim, got %d", len(events))
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"",
		"pipe | here",
		"back\\slash",
		"line\nbreak",
		"carriage\rreturn",
		"all \\ | of\nthem\r together",
	}
	for _, c := range cases {
		got := unescapeField(escapeField(c))
		if got != c {
			t.Fatalf("round trip failed for %q: got %q", c, got)
		}
		if strings.ContainsAny(escapeField(c), "\n\r") {
			t.Fatalf("escaped form of %q contains raw newline", c)
		}
	}
}

func TestSplitRecordLineRespectsEscapes(t *testing.T) {
	fields := splitRecordLine(`100.5|direct|user|has \| a pipe|sender1`)
	if len(fields) != 5 {
		t.Fatalf("expected 5 fields, got %d: %v", len(fields), fields)
	}
	if unescapeField(fields[3]) != "has | a pipe" {
		t.Fatalf("escaped pipe mishandled: %q", fields[3])
	}
}
