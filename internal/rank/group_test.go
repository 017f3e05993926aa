package rank

import (
	"testing"

	"github.com/seanblong/docsearch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(fileID, chunkID string, score int) models.RerankedHit {
	return models.RerankedHit{
		ScoredHit:      models.ScoredHit{FileID: fileID, ChunkID: chunkID, Text: chunkID},
		RelevanceScore: score,
	}
}

func TestGroupByFile_AscendingAverages(t *testing.T) {
	hits := []models.RerankedHit{
		hit("A", "a1", 90), hit("B", "b1", 50), hit("A", "a2", 70), hit("B", "b2", 30),
	}

	groups := GroupByFile(hits, 5)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"B", "A"}, FileIDs(groups))
	assert.Equal(t, 40.0, groups[0].AvgScore)
	assert.Equal(t, 80.0, groups[1].AvgScore)
}

func TestGroupByFile_AverageCoversAllHits(t *testing.T) {
	hits := []models.RerankedHit{
		hit("A", "a1", 100), hit("A", "a2", 10), hit("A", "a3", 40), hit("A", "a4", 50),
	}

	groups := GroupByFile(hits, 5)

	require.Len(t, groups, 1)
	assert.Equal(t, 50.0, groups[0].AvgScore)
	require.Len(t, groups[0].TopChunks, 2)
	assert.Equal(t, "a2", groups[0].TopChunks[0].ChunkID)
	assert.Equal(t, "a3", groups[0].TopChunks[1].ChunkID)
}

func TestGroupByFile_TopN(t *testing.T) {
	var hits []models.RerankedHit
	for i, f := range []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7"} {
		hits = append(hits, hit(f, f+"-c", 10*(7-i)))
	}

	groups := GroupByFile(hits, 5)
	assert.Equal(t, []string{"f7", "f6", "f5", "f4", "f3"}, FileIDs(groups))

	groups = GroupByFile(hits, 0)
	assert.Len(t, groups, DefaultTopN)

	groups = GroupByFile(hits, 2)
	assert.Equal(t, []string{"f7", "f6"}, FileIDs(groups))
}

func TestGroupByFile_TiesKeepFirstAppearance(t *testing.T) {
	hits := []models.RerankedHit{
		hit("X", "x1", 60), hit("Y", "y1", 60), hit("Z", "z1", 20), hit("X", "x2", 60),
		hit("Y", "y2", 60),
	}

	groups := GroupByFile(hits, 5)
	assert.Equal(t, []string{"Z", "X", "Y"}, FileIDs(groups))
	assert.Equal(t, []string{"x1", "x2"}, []string{groups[1].TopChunks[0].ChunkID, groups[1].TopChunks[1].ChunkID})
}

func TestGroupByFile_Deterministic(t *testing.T) {
	hits := []models.RerankedHit{
		hit("A", "a1", 12), hit("B", "b1", 77), hit("C", "c1", 77), hit("A", "a2", 3),
		hit("B", "b2", 45), hit("D", "d1", 12), hit("C", "c2", 45), hit("A", "a3", 99),
	}

	first := GroupByFile(hits, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, GroupByFile(hits, 5))
	}
}

func TestGroupByFile_DoesNotMutateInput(t *testing.T) {
	hits := []models.RerankedHit{hit("A", "a1", 90), hit("A", "a2", 10)}
	in := append([]models.RerankedHit(nil), hits...)

	_ = GroupByFile(hits, 5)
	assert.Equal(t, in, hits)
}

func TestGroupByFile_Empty(t *testing.T) {
	assert.Empty(t, GroupByFile(nil, 5))
}
