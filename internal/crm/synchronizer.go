package crm

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// Policy is the retry schedule for CRM synchronization. Delays grow as
// base * 2^(attempt-1), capped at MaxDelay, plus additive jitter of up to
// JitterFraction of the delay. The deterministic component is non-decreasing
// and jitter only ever extends a wait, never shortens one below it.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// PolicyFromConfig builds the retry policy from injected configuration.
func PolicyFromConfig(cfg config.SyncConfig) Policy {
	return Policy{
		MaxAttempts:    cfg.GetSyncMaxAttempts(),
		BaseDelay:      cfg.GetSyncBaseDelay(),
		MaxDelay:       cfg.GetSyncMaxDelay(),
		JitterFraction: cfg.GetSyncJitterFraction(),
	}
}

// delay computes the wait before the given retry (attempt is 1-based; the
// delay precedes attempt+1).
func (p Policy) delay(attempt int, jitter func() float64) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.JitterFraction > 0 && jitter != nil {
		d += time.Duration(jitter() * p.JitterFraction * float64(d))
	}
	return d
}

// Sync outcomes.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomePermanentFailure Outcome = "permanent_failure"
	OutcomeDeadLettered     Outcome = "dead_lettered"
	OutcomeAborted          Outcome = "aborted"
)

// Result reports how one lead's synchronization ended, with the full attempt
// history. An aborted result (context canceled mid-backoff) leaves the lead
// eligible for a later replay.
type Result struct {
	Outcome   Outcome
	ContactID string
	Attempts  []domain.SyncAttempt
}

// ContactUpserter is the CRM surface the synchronizer drives.
type ContactUpserter interface {
	UpsertContact(ctx context.Context, record domain.LeadRecord, scoreVersion string) (string, error)
	LogActivity(ctx context.Context, contactID string, record domain.LeadRecord) error
}

// Locker serializes syncs per visitor identifier. Unlock is returned by
// Lock so a distributed implementation can carry a lease token.
type Locker interface {
	Lock(ctx context.Context, identifier string) (unlock func(), err error)
}

// Synchronizer owns the retry state machine for pushing leads to the CRM.
// Outcomes are values, not errors: a dead-lettered lead is a recorded fact,
// and one lead's failure never affects another's.
type Synchronizer struct {
	client       ContactUpserter
	policy       Policy
	locker       Locker
	scoreVersion string
	jitter       func() float64
	sleep        func(ctx context.Context, d time.Duration) error
	log          *logger.Logger
}

func NewSynchronizer(client ContactUpserter, policy Policy, locker Locker, scoreVersion string, log *logger.Logger) *Synchronizer {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Synchronizer{
		client:       client,
		policy:       policy,
		locker:       locker,
		scoreVersion: scoreVersion,
		jitter:       rand.Float64,
		sleep:        sleepContext,
		log:          log.WithComponent("crm_sync"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sync pushes one lead to the CRM, retrying transient failures with backoff
// until success, a permanent failure, or the attempt budget is exhausted.
// At most one sync runs per visitor identifier at a time.
func (s *Synchronizer) Sync(ctx context.Context, record domain.LeadRecord) Result {
	unlock, err := s.locker.Lock(ctx, record.VisitorIdentifier)
	if err != nil {
		return Result{Outcome: OutcomeAborted}
	}
	defer unlock()

	var attempts []domain.SyncAttempt

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		contactID, err := s.client.UpsertContact(ctx, record, s.scoreVersion)
		if err == nil {
			attempts = append(attempts, s.record(record, attempt, domain.AttemptSuccess, nil))
			if noteErr := s.client.LogActivity(ctx, contactID, record); noteErr != nil {
				s.log.Warn("activity note failed", "lead_id", record.ID, "error", noteErr)
			}
			return Result{Outcome: OutcomeSuccess, ContactID: contactID, Attempts: attempts}
		}

		if !IsTransient(err) {
			attempts = append(attempts, s.record(record, attempt, domain.AttemptPermanentFailure, err))
			return Result{Outcome: OutcomePermanentFailure, Attempts: attempts}
		}

		attempts = append(attempts, s.record(record, attempt, domain.AttemptTransientFailure, err))

		if attempt == s.policy.MaxAttempts {
			break
		}
		if ctx.Err() != nil || s.sleep(ctx, s.policy.delay(attempt, s.jitter)) != nil {
			return Result{Outcome: OutcomeAborted, Attempts: attempts}
		}
	}

	s.log.DeadLetter(record.ID.String(), record.VisitorIdentifier, len(attempts))
	return Result{Outcome: OutcomeDeadLettered, Attempts: attempts}
}

func (s *Synchronizer) record(lead domain.LeadRecord, attempt int, outcome string, err error) domain.SyncAttempt {
	s.log.SyncAttempt(lead.ID.String(), attempt, outcome, err)
	a := domain.SyncAttempt{
		LeadID:    lead.ID,
		Attempt:   attempt,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		a.Detail = err.Error()
	}
	return a
}

// KeyedMutex serializes work per key within one process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock blocks until the key is free and returns its unlock function.
func (k *KeyedMutex) Lock(_ context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}, nil
}
