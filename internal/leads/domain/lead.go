package domain

import (
	"time"

	"github.com/google/uuid"

	"chathub_backend/internal/geo"
)

// Qualification tiers derived from the normalized lead score.
type Tier string

const (
	TierCold Tier = "cold"
	TierWarm Tier = "warm"
	TierHot  Tier = "hot"
)

// LeadRecord is the assembled, immutable lead handed to the synchronization
// pipeline. The visitor identifier is the idempotency key for CRM upserts.
type LeadRecord struct {
	ID                uuid.UUID
	VisitorIdentifier string
	Email             string
	FirstName         string
	LastName          string
	Vector            FeatureVector
	Score             float64
	Tier              Tier
	Enrichment        geo.Enrichment
	Excerpt           string
	CreatedAt         time.Time
}

// SyncAttempt outcomes.
const (
	AttemptSuccess          = "success"
	AttemptTransientFailure = "transient_failure"
	AttemptPermanentFailure = "permanent_failure"
)

// SyncAttempt records one try at pushing a lead to the CRM. The attempt
// sequence for a lead is its retry history.
type SyncAttempt struct {
	LeadID    uuid.UUID
	Attempt   int
	Outcome   string
	Detail    string
	Timestamp time.Time
}
