package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/docsearch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		relevant  []string
		predicted []string
		want      Metrics
	}{
		{
			name:      "half overlap",
			relevant:  []string{"f1", "f2"},
			predicted: []string{"f1", "f3"},
			want:      Metrics{Precision: 0.5, Recall: 0.5, F1: 0.5},
		},
		{
			name:      "exact match",
			relevant:  []string{"a", "b"},
			predicted: []string{"b", "a"},
			want:      Metrics{Precision: 1, Recall: 1, F1: 1},
		},
		{
			name:      "no overlap",
			relevant:  []string{"a"},
			predicted: []string{"b"},
			want:      Metrics{},
		},
		{
			name: "both empty",
			want: Metrics{},
		},
		{
			name:     "nothing predicted",
			relevant: []string{"a"},
			want:     Metrics{},
		},
		{
			name:      "nothing relevant",
			predicted: []string{"a"},
			want:      Metrics{},
		},
		{
			name:      "duplicate predictions count once",
			relevant:  []string{"a", "b"},
			predicted: []string{"a", "a", "c"},
			want:      Metrics{Precision: 0.5, Recall: 0.5, F1: 0.5},
		},
		{
			name:      "one of three",
			relevant:  []string{"a"},
			predicted: []string{"a", "b", "c"},
			want:      Metrics{Precision: 1.0 / 3, Recall: 1, F1: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.relevant, tt.predicted)
			assert.InDelta(t, tt.want.Precision, got.Precision, 1e-9)
			assert.InDelta(t, tt.want.Recall, got.Recall, 1e-9)
			assert.InDelta(t, tt.want.F1, got.F1, 1e-9)
		})
	}
}

func staticRetriever(results map[string][]string) RetrieverFunc {
	return func(ctx context.Context, query string, mode models.Mode) ([]string, error) {
		return results[query], nil
	}
}

func TestEvaluate_Scenario(t *testing.T) {
	gt := GroundTruth{{Query: "q1", RelevantFileIDs: []string{"f1", "f2"}}}
	ev := New(gt, staticRetriever(map[string][]string{"q1": {"f1", "f3"}}))

	report, err := ev.Evaluate(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Details, 1)
	for _, mode := range models.Modes {
		res := report.Details[0].Modes[mode]
		assert.Equal(t, 0.5, res.Precision)
		assert.Equal(t, 0.5, res.Recall)
		assert.Equal(t, 0.5, res.F1)
		assert.Equal(t, []string{"f1", "f3"}, res.PredictedFileIDs)

		s := report.Summary[mode]
		assert.Equal(t, ModeSummary{AvgPrecision: 0.5, AvgRecall: 0.5, AvgF1: 0.5, Evaluated: 1}, s)
	}
}

func TestEvaluate_FailuresExcludedFromAverages(t *testing.T) {
	gt := GroundTruth{
		{Query: "good", RelevantFileIDs: []string{"a"}},
		{Query: "bad", RelevantFileIDs: []string{"b"}},
	}
	r := RetrieverFunc(func(ctx context.Context, query string, mode models.Mode) ([]string, error) {
		if query == "bad" && mode == models.ModeKeyword {
			return nil, errors.New("search returned 500")
		}
		if query == "bad" {
			return []string{"x"}, nil
		}
		return []string{"a"}, nil
	})

	report, err := New(gt, r).Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "search returned 500", report.Details[1].Modes[models.ModeKeyword].Error)

	kw := report.Summary[models.ModeKeyword]
	assert.Equal(t, 1.0, kw.AvgPrecision)
	assert.Equal(t, 1, kw.Evaluated)
	assert.Equal(t, 1, kw.Failed)

	conc := report.Summary[models.ModeConceptual]
	assert.Equal(t, 0.5, conc.AvgPrecision)
	assert.Equal(t, 2, conc.Evaluated)
}

func TestEvaluate_ModeWithNoSuccessIsZero(t *testing.T) {
	gt := GroundTruth{{Query: "q", RelevantFileIDs: []string{"a"}}}
	r := RetrieverFunc(func(ctx context.Context, query string, mode models.Mode) ([]string, error) {
		return nil, errors.New("down")
	})

	report, err := New(gt, r).Evaluate(context.Background())
	require.NoError(t, err)
	for _, mode := range models.Modes {
		assert.Equal(t, ModeSummary{Failed: 1}, report.Summary[mode])
	}
}

func TestEvaluate_EmptyGroundTruth(t *testing.T) {
	report, err := New(nil, staticRetriever(nil)).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Details)
	assert.Len(t, report.Summary, len(models.Modes))
}

func TestEvaluate_AveragesUnrounded(t *testing.T) {
	gt := GroundTruth{
		{Query: "q1", RelevantFileIDs: []string{"a"}},
		{Query: "q2", RelevantFileIDs: []string{"a"}},
		{Query: "q3", RelevantFileIDs: []string{"a"}},
	}
	// precision 1/3 for every query: each rounds to 0.333, the mean stays 0.333
	r := staticRetriever(map[string][]string{
		"q1": {"a", "b", "c"}, "q2": {"a", "b", "c"}, "q3": {"a", "b", "c"},
	})

	report, err := New(gt, r).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.333, report.Details[0].Modes[models.ModeConceptual].Precision)
	assert.Equal(t, 0.333, report.Summary[models.ModeConceptual].AvgPrecision)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gt := GroundTruth{{Query: "q", RelevantFileIDs: []string{"a"}}}
	_, err := New(gt, staticRetriever(nil)).Evaluate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_CopiesGroundTruth(t *testing.T) {
	gt := GroundTruth{{Query: "q", RelevantFileIDs: []string{"a"}}}
	ev := New(gt, staticRetriever(nil))
	gt[0].RelevantFileIDs[0] = "changed"
	assert.Equal(t, "a", ev.truth[0].RelevantFileIDs[0])
}

func TestReportJSON(t *testing.T) {
	report := Report{
		Summary: map[models.Mode]ModeSummary{models.ModeConceptual: {AvgPrecision: 0.5}},
		Details: []QueryDetail{{
			Query: "q",
			Modes: map[models.Mode]ModeResult{
				models.ModeConceptual: {Precision: 0.5, PredictedFileIDs: []string{"a"}},
				models.ModeKeyword:    {Error: "boom"},
			},
		}},
	}

	b, err := json.Marshal(report)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	modes := raw["details"].([]any)[0].(map[string]any)["modes"].(map[string]any)
	assert.Equal(t, map[string]any{"error": "boom"}, modes["keyword"])
	assert.Contains(t, modes["conceptual"], "f1_score")

	records := report.Records()
	require.Len(t, records, 2)
	assert.Equal(t, models.ModeConceptual, records[0].Mode)
	assert.Equal(t, "boom", records[1].Error)
}

func TestSaveAndLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	report := Report{Summary: map[models.Mode]ModeSummary{models.ModeKeyword: {AvgRecall: 1}}}

	require.NoError(t, SaveReport(path, report))
	raw, err := LoadReport(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"avg_recall": 1`)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = LoadReport(path)
	assert.Error(t, err)
}

func TestLoadGroundTruth(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "ground_truth.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`[{"query":"q1","relevant_file_ids":["f1","f2"]}]`), 0o644))
	gt, err := LoadGroundTruth(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, GroundTruth{{Query: "q1", RelevantFileIDs: []string{"f1", "f2"}}}, gt)

	yamlPath := filepath.Join(dir, "ground_truth.yaml")
	require.NoError(t, os.WriteFile(yamlPath,
		[]byte("- query: q2\n  relevant_file_ids: [f3]\n"), 0o644))
	gt, err = LoadGroundTruth(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, GroundTruth{{Query: "q2", RelevantFileIDs: []string{"f3"}}}, gt)

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`[{"query":""}]`), 0o644))
	_, err = LoadGroundTruth(badPath)
	assert.Error(t, err)

	_, err = LoadGroundTruth(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestHTTPRetriever(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/semantic-search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req models.SearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "fail" {
			http.Error(w, "no results found", http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Query:   req.Query,
			Results: []models.DocumentGroup{{FileID: "f2"}, {FileID: "f1"}},
		})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL+"/", "tok")
	ids, err := r.Retrieve(context.Background(), "q", models.ModeKeyword)
	require.NoError(t, err)
	assert.Equal(t, []string{"f2", "f1"}, ids)

	_, err = r.Retrieve(context.Background(), "fail", models.ModeKeyword)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
