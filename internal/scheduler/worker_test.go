package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"chathub_backend/internal/crm"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/platform/logger"
)

type fakeStore struct {
	leads       map[uuid.UUID]domain.LeadRecord
	states      []string
	attempts    []domain.SyncAttempt
	deadLetters int
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (domain.LeadRecord, error) {
	record, ok := f.leads[id]
	if !ok {
		return domain.LeadRecord{}, repository.ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) SetSyncState(_ context.Context, _ uuid.UUID, state string) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeStore) RecordSyncAttempt(_ context.Context, attempt domain.SyncAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeStore) CreateDeadLetter(_ context.Context, _ uuid.UUID, _ string, _ int, _ string) error {
	f.deadLetters++
	return nil
}

type fakeSyncer struct {
	result crm.Result
}

func (f *fakeSyncer) Sync(_ context.Context, record domain.LeadRecord) crm.Result {
	result := f.result
	for i := range result.Attempts {
		result.Attempts[i].LeadID = record.ID
	}
	return result
}

func newSyncTask(t *testing.T, leadID uuid.UUID) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(LeadSyncPayload{LeadID: leadID, Identifier: "visitor-1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TaskLeadSync, payload)
}

func newWorkerUnderTest(store LeadSyncStore, syncer Syncer) *Worker {
	return &Worker{
		mux:    asynq.NewServeMux(),
		store:  store,
		syncer: syncer,
		log:    logger.New("development").WithComponent("worker"),
	}
}

func seededStore() (*fakeStore, domain.LeadRecord) {
	record := domain.LeadRecord{
		ID:                uuid.New(),
		VisitorIdentifier: "visitor-1",
		Tier:              domain.TierWarm,
		CreatedAt:         time.Now().UTC(),
	}
	return &fakeStore{leads: map[uuid.UUID]domain.LeadRecord{record.ID: record}}, record
}

func attemptsOf(outcomes ...string) []domain.SyncAttempt {
	attempts := make([]domain.SyncAttempt, len(outcomes))
	for i, outcome := range outcomes {
		attempts[i] = domain.SyncAttempt{Attempt: i + 1, Outcome: outcome, Timestamp: time.Now().UTC()}
	}
	return attempts
}

func TestHandleLeadSync_SuccessMarksSynced(t *testing.T) {
	store, record := seededStore()
	syncer := &fakeSyncer{result: crm.Result{
		Outcome:  crm.OutcomeSuccess,
		Attempts: attemptsOf(domain.AttemptTransientFailure, domain.AttemptSuccess),
	}}
	w := newWorkerUnderTest(store, syncer)

	if err := w.handleLeadSync(context.Background(), newSyncTask(t, record.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.attempts) != 2 {
		t.Fatalf("expected 2 persisted attempts, got %d", len(store.attempts))
	}
	for _, attempt := range store.attempts {
		if attempt.LeadID != record.ID {
			t.Fatalf("attempt not bound to lead: %+v", attempt)
		}
	}
	want := []string{repository.SyncStateAttempting, repository.SyncStateSynced}
	if len(store.states) != 2 || store.states[0] != want[0] || store.states[1] != want[1] {
		t.Fatalf("expected states %v, got %v", want, store.states)
	}
}

func TestHandleLeadSync_DeadLetterPersisted(t *testing.T) {
	store, record := seededStore()
	syncer := &fakeSyncer{result: crm.Result{
		Outcome: crm.OutcomeDeadLettered,
		Attempts: attemptsOf(
			domain.AttemptTransientFailure,
			domain.AttemptTransientFailure,
			domain.AttemptTransientFailure,
		),
	}}
	w := newWorkerUnderTest(store, syncer)

	if err := w.handleLeadSync(context.Background(), newSyncTask(t, record.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.deadLetters != 1 {
		t.Fatalf("expected a dead letter row, got %d", store.deadLetters)
	}
	if last := store.states[len(store.states)-1]; last != repository.SyncStateDeadLettered {
		t.Fatalf("expected dead_lettered state, got %s", last)
	}
}

func TestHandleLeadSync_PermanentFailureState(t *testing.T) {
	store, record := seededStore()
	syncer := &fakeSyncer{result: crm.Result{
		Outcome:  crm.OutcomePermanentFailure,
		Attempts: attemptsOf(domain.AttemptPermanentFailure),
	}}
	w := newWorkerUnderTest(store, syncer)

	if err := w.handleLeadSync(context.Background(), newSyncTask(t, record.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if last := store.states[len(store.states)-1]; last != repository.SyncStateFailedPermanent {
		t.Fatalf("expected failed_permanent state, got %s", last)
	}
	if store.deadLetters != 0 {
		t.Fatalf("permanent failure must not dead-letter")
	}
}

func TestHandleLeadSync_AbortedReturnsToPending(t *testing.T) {
	store, record := seededStore()
	syncer := &fakeSyncer{result: crm.Result{
		Outcome:  crm.OutcomeAborted,
		Attempts: attemptsOf(domain.AttemptTransientFailure),
	}}
	w := newWorkerUnderTest(store, syncer)

	if err := w.handleLeadSync(context.Background(), newSyncTask(t, record.ID)); err == nil {
		t.Fatalf("aborted sync must surface as error for redelivery")
	}

	if last := store.states[len(store.states)-1]; last != repository.SyncStatePending {
		t.Fatalf("expected pending state after abort, got %s", last)
	}
}

func TestHandleLeadSync_UnknownLead(t *testing.T) {
	store := &fakeStore{leads: map[uuid.UUID]domain.LeadRecord{}}
	w := newWorkerUnderTest(store, &fakeSyncer{})

	if err := w.handleLeadSync(context.Background(), newSyncTask(t, uuid.New())); err == nil {
		t.Fatalf("expected error for missing lead")
	}
}
