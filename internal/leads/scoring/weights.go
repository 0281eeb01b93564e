// Package scoring computes lead scores and qualification tiers from feature
// vectors, using externally supplied weights.
package scoring

import (
	"fmt"
	"math"
	"os"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/apperr"

	"gopkg.in/yaml.v3"
)

// Weights is one consistent snapshot of the scoring configuration: a
// coefficient per feature dimension plus the two tier cut points.
type Weights struct {
	Coefficients [domain.DimensionCount]float64
	WarmCutoff   float64
	HotCutoff    float64
}

type weightsDocument struct {
	Weights    map[string]float64 `yaml:"weights"`
	Thresholds struct {
		Warm float64 `yaml:"warm"`
		Hot  float64 `yaml:"hot"`
	} `yaml:"thresholds"`
}

// LoadWeights reads the scoring configuration from a YAML document.
// Misconfiguration here is fatal at startup, never handled per-request.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, apperr.Wrap(apperr.KindConfig, "failed to read scoring weights", err).WithOp("scoring")
	}

	var doc weightsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Weights{}, apperr.Wrap(apperr.KindConfig, "failed to parse scoring weights", err).WithOp("scoring")
	}

	return NewWeights(doc.Weights, doc.Thresholds.Warm, doc.Thresholds.Hot)
}

// NewWeights validates a named coefficient map against the dimension list.
func NewWeights(named map[string]float64, warm, hot float64) (Weights, error) {
	if len(named) != domain.DimensionCount {
		return Weights{}, apperr.InvalidWeights(fmt.Sprintf("expected %d weights, got %d", domain.DimensionCount, len(named)))
	}

	w := Weights{WarmCutoff: warm, HotCutoff: hot}
	for i, name := range domain.DimensionNames {
		value, ok := named[name]
		if !ok {
			return Weights{}, apperr.InvalidWeights(fmt.Sprintf("missing weight for dimension %q", name))
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return Weights{}, apperr.InvalidWeights(fmt.Sprintf("weight for dimension %q is not finite", name))
		}
		w.Coefficients[i] = value
	}

	if warm < 0 || hot > 100 || warm >= hot {
		return Weights{}, apperr.InvalidWeights(fmt.Sprintf("tier cut points must satisfy 0 <= warm < hot <= 100, got warm=%f hot=%f", warm, hot))
	}

	return w, nil
}
