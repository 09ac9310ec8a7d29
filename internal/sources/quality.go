package sources

import (
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ParseQuality returns the numeric rank of a label such as "1080p".
// Labels without a leading integer rank as 0.
func ParseQuality(label string) int {
	s := strings.TrimSpace(label)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "p"), "P")

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// SortByQuality returns a copy of list ordered highest quality first.
// Equal ranks keep their original relative order.
func SortByQuality(list []VideoSource) []VideoSource {
	sorted := make([]VideoSource, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ParseQuality(sorted[i].Quality) > ParseQuality(sorted[j].Quality)
	})
	return sorted
}

// Labels returns the quality labels in list order
func Labels(list []VideoSource) []string {
	return lo.Map(list, func(s VideoSource, _ int) string {
		return s.Quality
	})
}

// FindByQuality looks up a source by its exact label
func FindByQuality(list []VideoSource, label string) (VideoSource, bool) {
	return lo.Find(list, func(s VideoSource) bool {
		return s.Quality == label
	})
}

// MapURLs returns a copy of list with every URL passed through fn
func MapURLs(list []VideoSource, fn func(string) string) []VideoSource {
	return lo.Map(list, func(s VideoSource, _ int) VideoSource {
		s.URL = fn(s.URL)
		return s
	})
}
