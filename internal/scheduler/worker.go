package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"chathub_backend/internal/crm"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// LeadSyncStore is the persistence surface the worker needs around one sync.
type LeadSyncStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.LeadRecord, error)
	SetSyncState(ctx context.Context, leadID uuid.UUID, state string) error
	RecordSyncAttempt(ctx context.Context, attempt domain.SyncAttempt) error
	CreateDeadLetter(ctx context.Context, leadID uuid.UUID, identifier string, attempts int, lastError string) error
}

// Syncer pushes one lead to the CRM and reports the outcome.
type Syncer interface {
	Sync(ctx context.Context, record domain.LeadRecord) crm.Result
}

// Worker runs the background job server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	store  LeadSyncStore
	syncer Syncer
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, store LeadSyncStore, syncer Syncer, log *logger.Logger) (*Worker, error) {
	opt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{cfg.GetAsynqQueueName(): 1},
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		store:  store,
		syncer: syncer,
		log:    log.WithComponent("worker"),
	}
	w.mux.HandleFunc(TaskLeadSync, w.handleLeadSync)
	return w, nil
}

// Run blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()
	return w.server.Run(w.mux)
}

// handleLeadSync drives one lead through the synchronizer and persists the
// attempt history and terminal state. Only infrastructure errors (payload,
// missing lead, database) surface to asynq; sync outcomes are data.
func (w *Worker) handleLeadSync(ctx context.Context, task *asynq.Task) error {
	var payload LeadSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", TaskLeadSync, err)
	}

	record, err := w.store.GetByID(ctx, payload.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", payload.LeadID, err)
	}

	ctx = context.WithValue(ctx, logger.LeadIDKey, record.ID.String())
	log := w.log.WithContext(ctx)

	if err := w.store.SetSyncState(ctx, record.ID, repository.SyncStateAttempting); err != nil {
		log.DatabaseError("set sync state", err)
	}

	result := w.syncer.Sync(ctx, record)

	for _, attempt := range result.Attempts {
		if err := w.store.RecordSyncAttempt(ctx, attempt); err != nil {
			log.DatabaseError("record sync attempt", err)
		}
	}

	switch result.Outcome {
	case crm.OutcomeSuccess:
		return w.store.SetSyncState(ctx, record.ID, repository.SyncStateSynced)
	case crm.OutcomePermanentFailure:
		return w.store.SetSyncState(ctx, record.ID, repository.SyncStateFailedPermanent)
	case crm.OutcomeDeadLettered:
		lastError := ""
		if n := len(result.Attempts); n > 0 {
			lastError = result.Attempts[n-1].Detail
		}
		if err := w.store.CreateDeadLetter(ctx, record.ID, record.VisitorIdentifier, len(result.Attempts), lastError); err != nil {
			log.DatabaseError("create dead letter", err)
		}
		return w.store.SetSyncState(ctx, record.ID, repository.SyncStateDeadLettered)
	case crm.OutcomeAborted:
		// Shutdown mid-backoff. Back to pending so a replay can pick it up.
		if err := w.store.SetSyncState(ctx, record.ID, repository.SyncStatePending); err != nil {
			log.DatabaseError("set sync state", err)
		}
		return context.Canceled
	default:
		return fmt.Errorf("unknown sync outcome %q", result.Outcome)
	}
}
