package leads

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/features"
	"chathub_backend/internal/leads/scoring"
	"chathub_backend/platform/apperr"
	"chathub_backend/platform/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]domain.LeadRecord
	fail    bool
}

func (m *memoryStore) Upsert(_ context.Context, record domain.LeadRecord) (domain.LeadRecord, error) {
	if m.fail {
		return domain.LeadRecord{}, errors.New("database down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]domain.LeadRecord)
	}
	if existing, ok := m.records[record.VisitorIdentifier]; ok {
		record.ID = existing.ID
	}
	m.records[record.VisitorIdentifier] = record
	return record, nil
}

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []domain.LeadRecord
	fail     bool
}

func (q *recordingQueue) EnqueueLeadSync(_ context.Context, record domain.LeadRecord) error {
	if q.fail {
		return errors.New("redis down")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, record)
	return nil
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (geo.Point, bool, error) {
	return geo.Point{}, false, errors.New("resolver unreachable")
}

func chennaiCatalog(t *testing.T) *geo.Catalog {
	t.Helper()
	catalog, err := geo.NewCatalog([]geo.AreaCatalogEntry{
		{Name: "Anna Nagar", Point: geo.Point{Latitude: 13.0891, Longitude: 80.2107}},
		{Name: "Velachery", Point: geo.Point{Latitude: 12.9815, Longitude: 80.2180}},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

func newPipeline(t *testing.T, resolver geo.IPResolver, store LeadStore, queue SyncEnqueuer) *Orchestrator {
	t.Helper()
	log := logger.New("development")

	weights, err := scoring.NewWeights(map[string]float64{
		"pricing_intent": 3, "urgency": 2, "question_density": 1, "engagement_depth": 1.5,
		"message_length": 0.5, "recency": 1, "buying_timeframe": 2.5, "budget_mention": 2,
		"contact_identity": 1.5, "company_signal": 1, "decision_maker": 1.5, "scraped_richness": 0.5,
		"product_interest": 1.5, "positive_sentiment": 1, "objection": -1, "repeat_visitor": 0.5,
	}, 40, 70)
	if err != nil {
		t.Fatalf("weights: %v", err)
	}

	return NewOrchestrator(
		features.NewExtractor(),
		geo.NewEnricher(chennaiCatalog(t), resolver, log),
		scoring.New(weights, log),
		store,
		queue,
		log,
	)
}

func TestProcess_PersistsAndEnqueues(t *testing.T) {
	store := &memoryStore{}
	queue := &recordingQueue{}
	pipeline := newPipeline(t, nil, store, queue)

	conv := sampleConversation()
	conv.Coordinate = &geo.Point{Latitude: 13.10, Longitude: 80.21}

	record, err := pipeline.Process(context.Background(), conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Enrichment.Method != geo.MethodCoordinate || record.Enrichment.Area != "Anna Nagar" {
		t.Fatalf("expected coordinate enrichment to Anna Nagar, got %+v", record.Enrichment)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one stored lead, got %d", len(store.records))
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].ID != record.ID {
		t.Fatalf("expected the stored lead enqueued, got %+v", queue.enqueued)
	}
}

func TestProcess_EnrichmentFailureNeverBlocks(t *testing.T) {
	store := &memoryStore{}
	queue := &recordingQueue{}
	pipeline := newPipeline(t, failingResolver{}, store, queue)

	conv := sampleConversation()
	conv.IP = "203.0.113.7"

	record, err := pipeline.Process(context.Background(), conv)
	if err != nil {
		t.Fatalf("resolver failure must not fail the pipeline: %v", err)
	}
	if !record.Enrichment.Unresolved() {
		t.Fatalf("expected unresolved enrichment, got %+v", record.Enrichment)
	}
	if record.Score <= 0 {
		t.Fatalf("pricing conversation must still score, got %f", record.Score)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("unresolved lead must still sync")
	}
}

func TestProcess_MissingIdentifierFails(t *testing.T) {
	store := &memoryStore{}
	pipeline := newPipeline(t, nil, store, &recordingQueue{})

	conv := sampleConversation()
	conv.Email = ""
	conv.VisitorID = ""

	if _, err := pipeline.Process(context.Background(), conv); err == nil {
		t.Fatalf("expected error for unidentifiable conversation")
	}
	if len(store.records) != 0 {
		t.Fatalf("rejected conversation must not persist")
	}
}

func TestProcess_StoreFailurePropagates(t *testing.T) {
	queue := &recordingQueue{}
	pipeline := newPipeline(t, nil, &memoryStore{fail: true}, queue)

	_, err := pipeline.Process(context.Background(), sampleConversation())
	if err == nil {
		t.Fatalf("expected store error to propagate")
	}
	if apperr.GetKind(err) != apperr.KindInternal {
		t.Fatalf("store failure must surface as internal, got %v", err)
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("unpersisted lead must not enqueue")
	}
}

func TestProcess_EnqueueFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{}
	pipeline := newPipeline(t, nil, store, &recordingQueue{fail: true})

	record, err := pipeline.Process(context.Background(), sampleConversation())
	if err != nil {
		t.Fatalf("enqueue failure must not fail the conversion: %v", err)
	}
	if len(store.records) != 1 || record.ID != store.records[record.VisitorIdentifier].ID {
		t.Fatalf("lead must still be persisted")
	}
}

func TestProcess_ReplaySameIdentifierKeepsOneRecord(t *testing.T) {
	store := &memoryStore{}
	pipeline := newPipeline(t, nil, store, &recordingQueue{})

	first, err := pipeline.Process(context.Background(), sampleConversation())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := pipeline.Process(context.Background(), sampleConversation())
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("replay created %d records", len(store.records))
	}
	if first.ID != second.ID {
		t.Fatalf("replay must keep the stored lead ID: %s vs %s", first.ID, second.ID)
	}
}
