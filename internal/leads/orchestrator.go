package leads

import (
	"context"

	"golang.org/x/sync/errgroup"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/features"
	"chathub_backend/internal/leads/scoring"
	"chathub_backend/platform/apperr"
	"chathub_backend/platform/logger"
)

// LeadStore persists assembled leads, keyed by visitor identifier.
type LeadStore interface {
	Upsert(ctx context.Context, record domain.LeadRecord) (domain.LeadRecord, error)
}

// SyncEnqueuer hands a persisted lead to the CRM synchronization queue.
type SyncEnqueuer interface {
	EnqueueLeadSync(ctx context.Context, record domain.LeadRecord) error
}

// Orchestrator sequences the pipeline for one conversation event. Each event
// is processed independently; the only shared state is the read-only catalog
// inside the enricher.
type Orchestrator struct {
	extractor *features.Extractor
	enricher  *geo.Enricher
	scorer    *scoring.Service
	store     LeadStore
	queue     SyncEnqueuer
	log       *logger.Logger
}

// NewOrchestrator wires the pipeline components.
func NewOrchestrator(extractor *features.Extractor, enricher *geo.Enricher, scorer *scoring.Service, store LeadStore, queue SyncEnqueuer, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		enricher:  enricher,
		scorer:    scorer,
		store:     store,
		queue:     queue,
		log:       log.WithComponent("orchestrator"),
	}
}

// Process converts one conversation into a persisted, queued lead.
// Extraction and enrichment are independent and run concurrently; enrichment
// degrades to unresolved and never blocks scoring or synchronization.
func (o *Orchestrator) Process(ctx context.Context, conv domain.ConversationContext) (domain.LeadRecord, error) {
	var (
		vector     domain.FeatureVector
		enrichment geo.Enrichment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := o.extractor.Extract(conv)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	g.Go(func() error {
		enrichment = o.enricher.Enrich(gctx, geo.Input{Point: conv.Coordinate, IP: conv.IP})
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.LeadRecord{}, err
	}

	score, tier := o.scorer.Score(vector)

	record, err := Assemble(conv, vector, enrichment, score, tier)
	if err != nil {
		return domain.LeadRecord{}, err
	}

	stored, err := o.store.Upsert(ctx, record)
	if err != nil {
		return domain.LeadRecord{}, apperr.Wrap(apperr.KindInternal, "failed to persist lead", err).WithOp("orchestrator")
	}

	o.log.Info("lead qualified",
		"lead_id", stored.ID,
		"identifier", stored.VisitorIdentifier,
		"score", stored.Score,
		"tier", stored.Tier,
		"area", stored.Enrichment.Area,
		"geo_method", stored.Enrichment.Method,
	)

	if o.queue != nil {
		if err := o.queue.EnqueueLeadSync(ctx, stored); err != nil {
			// The lead is persisted; a failed handoff is recoverable by a
			// later backfill run, so it must not fail the conversion.
			o.log.Error("failed to enqueue lead sync", "lead_id", stored.ID, "error", err)
		}
	}

	return stored, nil
}
