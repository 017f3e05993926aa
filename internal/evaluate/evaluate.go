// Package evaluate measures retrieval quality against a labeled ground truth.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/pkg/models"
)

// Retriever returns the file ids predicted for a query in a mode.
type Retriever interface {
	Retrieve(ctx context.Context, query string, mode models.Mode) ([]string, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, mode models.Mode) ([]string, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, mode models.Mode) ([]string, error) {
	return f(ctx, query, mode)
}

// Metrics holds unrounded precision, recall and F1.
type Metrics struct {
	Precision float64
	Recall    float64
	F1        float64
}

// Score compares predicted file ids with the relevant ones. Both are treated
// as sets over their union; any zero denominator yields 0.
func Score(relevant, predicted []string) Metrics {
	rel := toSet(relevant)
	pred := toSet(predicted)

	tp := 0
	for id := range pred {
		if _, ok := rel[id]; ok {
			tp++
		}
	}

	var m Metrics
	if len(pred) > 0 {
		m.Precision = float64(tp) / float64(len(pred))
	}
	if len(rel) > 0 {
		m.Recall = float64(tp) / float64(len(rel))
	}
	// 2tp / (2tp + fp + fn)
	if denom := len(pred) + len(rel); denom > 0 {
		m.F1 = 2 * float64(tp) / float64(denom)
	}
	return m
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// ModeResult is the outcome of one query in one mode. When Error is set the
// metrics are meaningless and the result is excluded from averages.
type ModeResult struct {
	Precision        float64  `json:"precision"`
	Recall           float64  `json:"recall"`
	F1               float64  `json:"f1_score"`
	PredictedFileIDs []string `json:"predicted_file_ids"`
	Error            string   `json:"error,omitempty"`
}

func (r ModeResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	type plain ModeResult
	return json.Marshal(plain(r))
}

// QueryDetail holds the per mode results of one ground truth query.
type QueryDetail struct {
	Query string                     `json:"query"`
	Modes map[models.Mode]ModeResult `json:"modes"`
}

// ModeSummary averages the successful queries of a mode.
type ModeSummary struct {
	AvgPrecision float64 `json:"avg_precision"`
	AvgRecall    float64 `json:"avg_recall"`
	AvgF1        float64 `json:"avg_f1_score"`
	Evaluated    int     `json:"evaluated"`
	Failed       int     `json:"failed"`
}

type Report struct {
	Summary map[models.Mode]ModeSummary `json:"summary"`
	Details []QueryDetail               `json:"details"`
}

// Records flattens the report into one record per (query, mode).
func (r Report) Records() []models.EvaluationRecord {
	var out []models.EvaluationRecord
	for _, d := range r.Details {
		for _, m := range models.Modes {
			res, ok := d.Modes[m]
			if !ok {
				continue
			}
			out = append(out, models.EvaluationRecord{
				Query:            d.Query,
				Mode:             m,
				Precision:        res.Precision,
				Recall:           res.Recall,
				F1:               res.F1,
				PredictedFileIDs: res.PredictedFileIDs,
				Error:            res.Error,
			})
		}
	}
	return out
}

// Evaluator runs every ground truth query in every mode through a Retriever.
type Evaluator struct {
	truth     GroundTruth
	retriever Retriever
	modes     []models.Mode
}

// New creates an Evaluator. The ground truth is copied and never modified.
func New(truth GroundTruth, r Retriever) *Evaluator {
	return &Evaluator{
		truth:     truth.clone(),
		retriever: r,
		modes:     models.Modes,
	}
}

// Evaluate runs the evaluation sequentially. A failing (query, mode) pair is
// recorded in its detail and skipped in the averages; only a cancelled
// context stops the run.
func (e *Evaluator) Evaluate(ctx context.Context) (Report, error) {
	type sums struct {
		p, r, f float64
		n, fail int
	}
	acc := make(map[models.Mode]*sums, len(e.modes))
	for _, m := range e.modes {
		acc[m] = &sums{}
	}

	report := Report{
		Summary: make(map[models.Mode]ModeSummary, len(e.modes)),
		Details: make([]QueryDetail, 0, len(e.truth)),
	}

	for _, entry := range e.truth {
		detail := QueryDetail{Query: entry.Query, Modes: make(map[models.Mode]ModeResult, len(e.modes))}

		for _, mode := range e.modes {
			if err := ctx.Err(); err != nil {
				return Report{}, fmt.Errorf("evaluation aborted: %w", err)
			}

			predicted, err := e.retriever.Retrieve(ctx, entry.Query, mode)
			if err != nil {
				log.Warn().Err(err).Str("query", entry.Query).Str("mode", string(mode)).Msg("retrieval failed")
				detail.Modes[mode] = ModeResult{Error: err.Error()}
				acc[mode].fail++
				continue
			}
			if predicted == nil {
				predicted = []string{}
			}

			m := Score(entry.RelevantFileIDs, predicted)
			a := acc[mode]
			a.p += m.Precision
			a.r += m.Recall
			a.f += m.F1
			a.n++

			detail.Modes[mode] = ModeResult{
				Precision:        round3(m.Precision),
				Recall:           round3(m.Recall),
				F1:               round3(m.F1),
				PredictedFileIDs: predicted,
			}
		}
		report.Details = append(report.Details, detail)
	}

	for _, mode := range e.modes {
		a := acc[mode]
		s := ModeSummary{Evaluated: a.n, Failed: a.fail}
		if a.n > 0 {
			s.AvgPrecision = round3(a.p / float64(a.n))
			s.AvgRecall = round3(a.r / float64(a.n))
			s.AvgF1 = round3(a.f / float64(a.n))
		}
		report.Summary[mode] = s
	}

	log.Info().Int("queries", len(e.truth)).Msg("evaluation finished")
	return report, nil
}
