package research

import (
	"slices"
)

// CollectSources returns the distinct non-empty evidence URLs, sorted.
func CollectSources(results SearchResults) []string {
	seen := make(map[string]bool)
	sources := []string{}
	for _, qe := range results {
		for _, ev := range qe.Evidence {
			if ev.URL == "" || seen[ev.URL] {
				continue
			}
			seen[ev.URL] = true
			sources = append(sources, ev.URL)
		}
	}
	slices.Sort(sources)
	return sources
}
