// Package leads composes the pipeline: extraction, enrichment, scoring,
// assembly, and handoff to CRM synchronization.
package leads

import (
	"time"

	"github.com/google/uuid"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/features"
	"chathub_backend/platform/apperr"
)

// excerptMaxLen bounds the conversation excerpt carried into the CRM note.
const excerptMaxLen = 500

// Assemble composes the pipeline outputs into an immutable LeadRecord.
// Pure composition: no external calls. A lead without any derivable visitor
// identifier is rejected and does not affect other leads.
func Assemble(conv domain.ConversationContext, vector domain.FeatureVector, enrichment geo.Enrichment, score float64, tier domain.Tier) (domain.LeadRecord, error) {
	identifier := conv.Identifier()
	if identifier == "" {
		return domain.LeadRecord{}, apperr.IncompleteData("no visitor identifier derivable from conversation")
	}

	if err := vector.Validate(); err != nil {
		return domain.LeadRecord{}, apperr.IncompleteData(err.Error())
	}

	first, last := features.ExtractName(conv)

	return domain.LeadRecord{
		ID:                uuid.New(),
		VisitorIdentifier: identifier,
		Email:             conv.Email,
		FirstName:         first,
		LastName:          last,
		Vector:            vector,
		Score:             score,
		Tier:              tier,
		Enrichment:        enrichment,
		Excerpt:           conv.Excerpt(excerptMaxLen),
		CreatedAt:         time.Now().UTC(),
	}, nil
}
