package domain

import (
	"fmt"
	"math"

	"chathub_backend/platform/apperr"
)

// DimensionCount is the fixed feature vector width. Weights documents and
// extractors are validated against it.
const DimensionCount = 16

// Feature dimension indexes. The order is the wire order of the vector and of
// the weights document.
const (
	DimPricingIntent = iota
	DimUrgency
	DimQuestionDensity
	DimEngagementDepth
	DimMessageLength
	DimRecency
	DimBuyingTimeframe
	DimBudgetMention
	DimContactIdentity
	DimCompanySignal
	DimDecisionMaker
	DimScrapedRichness
	DimProductInterest
	DimPositiveSentiment
	DimObjection
	DimRepeatVisitor
)

// DimensionNames maps indexes to the signal names used in factor breakdowns.
var DimensionNames = [DimensionCount]string{
	"pricing_intent",
	"urgency",
	"question_density",
	"engagement_depth",
	"message_length",
	"recency",
	"buying_timeframe",
	"budget_mention",
	"contact_identity",
	"company_signal",
	"decision_maker",
	"scraped_richness",
	"product_interest",
	"positive_sentiment",
	"objection",
	"repeat_visitor",
}

// FeatureVector is a fixed-length vector of normalized conversational signals.
// Every value is finite and within [0,1].
type FeatureVector [DimensionCount]float64

// Validate checks the vector invariants.
func (v FeatureVector) Validate() error {
	for i, value := range v {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return apperr.Validation(fmt.Sprintf("dimension %s is not finite", DimensionNames[i]))
		}
		if value < 0 || value > 1 {
			return apperr.Validation(fmt.Sprintf("dimension %s value %f outside [0,1]", DimensionNames[i], value))
		}
	}
	return nil
}

// Factors returns the named dimension values for persistence and debugging.
func (v FeatureVector) Factors() map[string]float64 {
	factors := make(map[string]float64, DimensionCount)
	for i, value := range v {
		factors[DimensionNames[i]] = value
	}
	return factors
}
