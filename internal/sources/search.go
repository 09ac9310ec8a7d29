package sources

import (
	"github.com/sahilm/fuzzy"
)

type searchTitles []SearchResult

func (s searchTitles) String(i int) string { return s[i].Title.String() }
func (s searchTitles) Len() int            { return len(s) }

// RankResults orders results by fuzzy match quality against query.
// Results that do not match at all keep their API order after the matches.
func RankResults(query string, results []SearchResult) []SearchResult {
	if query == "" || len(results) == 0 {
		return results
	}

	matches := fuzzy.FindFrom(query, searchTitles(results))
	ranked := make([]SearchResult, 0, len(results))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		ranked = append(ranked, results[m.Index])
		seen[m.Index] = true
	}
	for i, r := range results {
		if !seen[i] {
			ranked = append(ranked, r)
		}
	}
	return ranked
}
