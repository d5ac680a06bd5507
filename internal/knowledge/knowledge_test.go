package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func loadTestBase(t *testing.T, files map[string]string) *Base {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	b, err := Load(dir, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestLoadSplitsParagraphs(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "Solar panels need southern exposure.\n\nBattery banks should stay above freezing.",
	})
	if b.Len() != 2 {
		t.Fatalf("expected 2 paragraphs, got %d", b.Len())
	}
}

func TestLoadSkipsNonTextFiles(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.md":  "Antenna height beats antenna gain.",
		"image.png": "binarydata",
	})
	if b.Len() != 1 {
		t.Fatalf("expected only text files indexed, got %d entries", b.Len())
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	b, err := Load(filepath.Join(t.TempDir(), "nope"), zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty base, got %d", b.Len())
	}
}

func TestSearchRanksByWordOverlap(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "Solar panels need southern exposure and clear sky.\n\n" +
			"Battery banks should stay above freezing in winter.\n\n" +
			"Solar battery controllers prevent overcharge.",
	})
	hits := b.Search("solar battery", 3)
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Text != "Solar battery controllers prevent overcharge." {
		t.Fatalf("expected the paragraph matching both words first, got %q", hits[0].Text)
	}
	if hits[0].Score != 1.0 {
		t.Fatalf("expected full score, got %v", hits[0].Score)
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "Antenna height beats antenna gain.",
	})
	if hits := b.Search("ANTENNA HEIGHT", 1); len(hits) != 1 {
		t.Fatalf("expected case-insensitive match, got %d hits", len(hits))
	}
}

func TestSearchStopWordsIgnored(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "Antenna height beats antenna gain.",
	})
	// Query is mostly stop words; the significant ones must still match.
	hits := b.Search("what is the antenna height", 1)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	// A query of only stop words finds nothing.
	if hits := b.Search("what is the", 1); len(hits) != 0 {
		t.Fatalf("stop-word-only query should find nothing, got %d", len(hits))
	}
}

func TestSearchBelowThresholdDropped(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "Battery banks should stay above freezing.",
	})
	// One of three significant words matches: below the half threshold.
	if hits := b.Search("battery solar antenna", 3); len(hits) != 0 {
		t.Fatalf("expected weak match dropped, got %d hits", len(hits))
	}
}

func TestSearchEqualScoresKeepEntryOrder(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "solar one\n\nsolar two\n\nsolar three",
	})
	want := []string{"solar one", "solar two", "solar three"}
	for i := 0; i < 5; i++ {
		hits := b.Search("solar", 3)
		if len(hits) != 3 {
			t.Fatalf("expected 3 hits, got %d", len(hits))
		}
		for j := range want {
			if hits[j].Text != want[j] {
				t.Fatalf("run %d: equal scores must keep indexing order, got %q at %d", i, hits[j].Text, j)
			}
		}
	}
}

func TestSearchLimit(t *testing.T) {
	b := loadTestBase(t, map[string]string{
		"guide.txt": "solar one\n\nsolar two\n\nsolar three",
	})
	if hits := b.Search("solar", 2); len(hits) != 2 {
		t.Fatalf("limit not applied: %d hits", len(hits))
	}
}
