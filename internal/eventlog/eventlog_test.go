package eventlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/models"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

func newTestLog(t *testing.T, maxSize int) (*Log, *registry.Registry) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	reg := registry.New(s, logger)
	return New(s, reg, logger, maxSize), reg
}

func TestAdvertUpdatesRegistryAndJournal(t *testing.T) {
	l, reg := newTestLog(t, 100)
	ctx := context.Background()

	err := l.Record(ctx, &models.EventRecord{
		EventType: models.EventAdvertisement,
		NodeID:    "a1b2c3d4e5f6",
		NodeName:  "alpha",
		Timestamp: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Registry side of the dual write.
	node, err := reg.Get(ctx, "a1b2c3d4e5f6")
	if err != nil {
		t.Fatal(err)
	}
	if node == nil || node.TotalAdverts != 1 || node.Name != "alpha" || !node.IsOnline {
		t.Fatalf("registry not updated: %+v", node)
	}

	// Journal side.
	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != models.EventAdvertisement {
		t.Fatalf("event not journaled: %+v", events)
	}
	if events[0].Inconsistent {
		t.Fatal("event should not be flagged inconsistent")
	}
}

func TestNonAdvertSkipsRegistry(t *testing.T) {
	l, reg := newTestLog(t, 100)
	ctx := context.Background()

	err := l.Record(ctx, &models.EventRecord{
		EventType: models.EventTopology,
		NodeID:    "a1b2c3d4e5f6",
		Timestamp: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	node, err := reg.Get(ctx, "a1b2c3d4e5f6")
	if err != nil {
		t.Fatal(err)
	}
	if node != nil {
		t.Fatal("topology event must not create a registry entry")
	}
}

// failingPutStore wraps a real store but rejects node writes, to exercise
// the inconsistency path of the advert dual write.
type failingPutStore struct {
	store.RecordStore
}

func (f *failingPutStore) PutNode(ctx context.Context, node *models.NodeRecord) error {
	return errors.New("disk full")
}

func TestAdvertJournaledDespiteRegistryFailure(t *testing.T) {
	inner, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { inner.Close() })
	s := &failingPutStore{RecordStore: inner}
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	reg := registry.New(s, logger)
	l := New(s, reg, logger, 100)
	ctx := context.Background()

	err = l.Record(ctx, &models.EventRecord{
		EventType: models.EventAdvertisement,
		NodeID:    "a1b2c3d4e5f6",
		Timestamp: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("event must be journaled even when registry fails, got %d", len(events))
	}
	if !events[0].Inconsistent {
		t.Fatal("event should be flagged inconsistent")
	}
}

func TestRetentionBound(t *testing.T) {
	const max = 5
	l, _ := newTestLog(t, max)
	ctx := context.Background()

	for i := 0; i < max+3; i++ {
		err := l.Record(ctx, &models.EventRecord{
			EventType: models.EventTopology,
			NodeID:    "a1b2c3d4e5f6",
			Details:   fmt.Sprintf("n%d", i),
			Timestamp: float64(100 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != max {
		t.Fatalf("expected %d retained, got %d", max, len(events))
	}
	// Newest survive, order intact (newest first).
	if events[0].Details != "n7" || events[max-1].Details != "n3" {
		t.Fatalf("retention kept wrong window: %+v", events)
	}
}

func TestAgeAnnotation(t *testing.T) {
	l, _ := newTestLog(t, 100)
	ctx := context.Background()
	l.now = func() float64 { return 100000 }

	stamps := []float64{99990, 99000, 90000, 100000 - 3*86400}
	for _, ts := range stamps {
		err := l.Record(ctx, &models.EventRecord{
			EventType: models.EventTopology,
			NodeID:    "a1b2c3d4e5f6",
			Timestamp: ts,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	// Recent() is newest first; stamps were inserted oldest-last.
	want := []string{"just now", "16 minutes ago", "2 hours ago", "3 days ago"}
	// Sort events by timestamp descending expectation: 99990, 99000, 90000, 100000-3d.
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	got := map[float64]string{}
	for _, e := range events {
		got[e.Timestamp] = e.Age
	}
	checks := map[float64]string{
		99990:            want[0],
		99000:            want[1],
		90000:            want[2],
		100000 - 3*86400: want[3],
	}
	for ts, age := range checks {
		if got[ts] != age {
			t.Fatalf("timestamp %v: expected age %q, got %q", ts, age, got[ts])
		}
	}
}

func TestFormatAge(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "just now"},
		{59, "just now"},
		{60, "1 minute ago"},
		{61, "1 minute ago"},
		{180, "3 minutes ago"},
		{3600, "1 hour ago"},
		{7200, "2 hours ago"},
		{86400, "1 day ago"},
		{5 * 86400, "5 days ago"},
		{-10, "just now"},
	}
	for _, c := range cases {
		if got := formatAge(c.seconds); got != c.want {
			t.Fatalf("formatAge(%v) = %q, want %q", c.seconds, got, c.want)
		}
	}
}
