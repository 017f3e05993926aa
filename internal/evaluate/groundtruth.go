package evaluate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/seanblong/docsearch/pkg/models"
	"gopkg.in/yaml.v3"
)

// GroundTruth is the labeled query set, loaded once at startup.
type GroundTruth []models.GroundTruthEntry

// LoadGroundTruth reads a ground truth file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON:
//
//	[{"query": "...", "relevant_file_ids": ["..."]}]
func LoadGroundTruth(path string) (GroundTruth, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}
	return ParseGroundTruth(b, filepath.Ext(path))
}

// ParseGroundTruth decodes ground truth data; ext selects the format.
func ParseGroundTruth(b []byte, ext string) (GroundTruth, error) {
	var gt GroundTruth
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &gt); err != nil {
			return nil, fmt.Errorf("parse ground truth yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &gt); err != nil {
			return nil, fmt.Errorf("parse ground truth json: %w", err)
		}
	}

	for i, e := range gt {
		if strings.TrimSpace(e.Query) == "" {
			return nil, fmt.Errorf("ground truth entry %d has an empty query", i)
		}
	}
	return gt, nil
}

func (g GroundTruth) clone() GroundTruth {
	out := make(GroundTruth, len(g))
	for i, e := range g {
		out[i] = models.GroundTruthEntry{
			Query:           e.Query,
			RelevantFileIDs: append([]string(nil), e.RelevantFileIDs...),
		}
	}
	return out
}
