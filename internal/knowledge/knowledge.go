package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// Base is a small in-memory knowledge base built from plain-text files.
// Each file is split into paragraphs; queries are scored by how many of
// their significant words each paragraph contains.
type Base struct {
	entries []Entry
	// index maps a significant word to the entries containing it.
	index map[string][]int
	log   zerolog.Logger
}

// Entry is one indexed paragraph.
type Entry struct {
	Source string // file the paragraph came from
	Text   string
}

// Hit is one search result.
type Hit struct {
	Entry
	Score float64
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "to": true, "of": true,
	"and": true, "or": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "it": true, "this": true, "that": true,
	"what": true, "how": true, "do": true, "does": true, "you": true,
	"i": true, "me": true, "my": true, "can": true, "about": true,
}

// Load reads every .txt and .md file under dir and indexes its paragraphs.
// A missing directory yields an empty base, not an error.
func Load(dir string, log zerolog.Logger) (*Base, error) {
	b := &Base{
		index: make(map[string][]int),
		log:   log.With().Str("component", "knowledge").Logger(),
	}
	if dir == "" {
		return b, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("read knowledge dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			b.log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable knowledge file")
			continue
		}
		b.addDocument(e.Name(), string(data))
	}
	b.log.Info().Int("entries", len(b.entries)).Msg("knowledge base loaded")
	return b, nil
}

func (b *Base) addDocument(source, text string) {
	for _, para := range splitParagraphs(text) {
		idx := len(b.entries)
		b.entries = append(b.entries, Entry{Source: source, Text: para})
		seen := map[string]bool{}
		for _, w := range tokenize(para) {
			if stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			b.index[w] = append(b.index[w], idx)
		}
	}
}

// Len returns the number of indexed paragraphs.
func (b *Base) Len() int { return len(b.entries) }

// Search returns up to limit paragraphs ranked by the fraction of the
// query's significant words they contain. Nothing scores below half.
func (b *Base) Search(query string, limit int) []Hit {
	if limit <= 0 {
		limit = 3
	}
	var words []string
	for _, w := range tokenize(query) {
		if !stopWords[w] {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}

	scores := map[int]int{}
	for _, w := range words {
		for _, idx := range b.index[w] {
			scores[idx]++
		}
	}

	// Walk candidates in entry order so equal scores tie-break on the
	// position the paragraph was indexed at, not map iteration order.
	idxs := make([]int, 0, len(scores))
	for idx := range scores {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	var hits []Hit
	for _, idx := range idxs {
		score := float64(scores[idx]) / float64(len(words))
		if score < 0.5 {
			continue
		}
		hits = append(hits, Hit{Entry: b.entries[idx], Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p := strings.TrimSpace(block)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
