package scoring

import (
	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/logger"
)

// Version tracks the scoring model for debugging and analysis.
// Bump this when changing scoring logic significantly.
const Version = "2026-v1"

// Service computes lead scores against one weights snapshot. The snapshot is
// immutable after construction; hot reload means building a new Service.
type Service struct {
	weights Weights
	log     *logger.Logger
}

// New creates a scoring service from a validated weights snapshot.
func New(weights Weights, log *logger.Logger) *Service {
	return &Service{
		weights: weights,
		log:     log.WithComponent("scoring"),
	}
}

// Version returns the scoring model version.
func (s *Service) Version() string {
	return Version
}

// Score computes the normalized [0,100] lead score and its qualification
// tier. Raising a dimension whose weight is positive never lowers the score:
// the weighted sum is divided by the sum of positive coefficients, so each
// positive-weighted dimension contributes monotonically.
func (s *Service) Score(vector domain.FeatureVector) (float64, domain.Tier) {
	var weighted, positive float64
	for i, value := range vector {
		coeff := s.weights.Coefficients[i]
		weighted += coeff * value
		if coeff > 0 {
			positive += coeff
		}
	}

	score := 0.0
	if positive > 0 {
		if weighted < 0 {
			weighted = 0
		}
		if weighted > positive {
			weighted = positive
		}
		score = weighted / positive * 100
	}

	return score, s.tier(score)
}

func (s *Service) tier(score float64) domain.Tier {
	switch {
	case score >= s.weights.HotCutoff:
		return domain.TierHot
	case score >= s.weights.WarmCutoff:
		return domain.TierWarm
	default:
		return domain.TierCold
	}
}
