// Package rank groups reranked hits by source document.
package rank

import (
	"sort"

	"github.com/seanblong/docsearch/pkg/models"
)

const (
	DefaultTopN = 5

	// chunksPerGroup is how many hits each document keeps in TopChunks.
	chunksPerGroup = 2
)

// GroupByFile groups hits by FileID and returns at most topN groups.
//
// AvgScore is the mean RelevanceScore of every hit of the file, not only the
// retained ones. Both the chunks inside a group and the groups themselves are
// ordered by ascending score, the ordering used when scores were distances.
// Existing clients depend on it, so avg_score acts as a rank key here rather
// than a quality score. Ties keep first-appearance order.
func GroupByFile(hits []models.RerankedHit, topN int) []models.DocumentGroup {
	if topN <= 0 {
		topN = DefaultTopN
	}

	var order []string
	byFile := make(map[string][]models.RerankedHit)
	for _, h := range hits {
		if _, seen := byFile[h.FileID]; !seen {
			order = append(order, h.FileID)
		}
		byFile[h.FileID] = append(byFile[h.FileID], h)
	}

	groups := make([]models.DocumentGroup, 0, len(order))
	for _, fileID := range order {
		chunks := byFile[fileID]

		sum := 0
		for _, c := range chunks {
			sum += c.RelevanceScore
		}

		sorted := make([]models.RerankedHit, len(chunks))
		copy(sorted, chunks)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].RelevanceScore < sorted[j].RelevanceScore
		})

		groups = append(groups, models.DocumentGroup{
			FileID:    fileID,
			TopChunks: sorted[:min(chunksPerGroup, len(sorted))],
			AvgScore:  float64(sum) / float64(len(chunks)),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].AvgScore < groups[j].AvgScore
	})
	if len(groups) > topN {
		groups = groups[:topN]
	}
	return groups
}

// FileIDs returns the file ids of groups in order.
func FileIDs(groups []models.DocumentGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.FileID
	}
	return out
}
