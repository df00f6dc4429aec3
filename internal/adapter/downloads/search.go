package downloads

import (
	"sort"
	"strings"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"
)

// Match is a downloaded entry found by a title query.
type Match struct {
	Entry
	MatchedIndexes []int // Title characters that matched
	Rank           int   // Lower is better
}

// titleSource implements fuzzy.Source over lowercase titles
type titleSource struct {
	entries []Entry
	lower   []string
}

func (s titleSource) String(i int) string { return s.lower[i] }
func (s titleSource) Len() int            { return len(s.entries) }

// Search fuzzy-filters the downloaded entries by title, best match first.
// An empty query returns every entry.
func (x *Index) Search(query string) []Match {
	entries := x.Entries()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]Match, len(entries))
		for i, e := range entries {
			out[i] = Match{Entry: e}
		}
		return out
	}

	src := titleSource{entries: entries, lower: make([]string, len(entries))}
	for i, e := range entries {
		src.lower[i] = strings.ToLower(e.Title)
	}

	found := fuzzy.FindFrom(query, src)
	out := make([]Match, 0, len(found))
	for _, m := range found {
		out = append(out, Match{
			Entry:          entries[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Rank:           titleRank(src.lower[m.Index], query),
		})
	}
	// Stable keeps the fuzzy score order between equal ranks
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// titleRank scores a lowercase title against a lowercase query. Lower is
// better: exact, then prefix, then substring, then edit distance.
func titleRank(title, query string) int {
	switch {
	case title == query:
		return 0
	case strings.HasPrefix(title, query):
		return 10
	case strings.Contains(title, query):
		return 50
	}
	return 100 + fuzzysearch.LevenshteinDistance(query, title)
}
