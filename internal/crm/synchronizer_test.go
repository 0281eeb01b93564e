package crm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/logger"
)

type scriptedUpserter struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	noteIDs  []string
	contacts map[string]string
}

func (f *scriptedUpserter) UpsertContact(_ context.Context, record domain.LeadRecord, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}
	if f.contacts == nil {
		f.contacts = make(map[string]string)
	}
	id, ok := f.contacts[record.VisitorIdentifier]
	if !ok {
		id = uuid.NewString()
		f.contacts[record.VisitorIdentifier] = id
	}
	return id, nil
}

func (f *scriptedUpserter) LogActivity(_ context.Context, contactID string, _ domain.LeadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteIDs = append(f.noteIDs, contactID)
	return nil
}

func testPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, JitterFraction: 0.2}
}

func testLead() domain.LeadRecord {
	return domain.LeadRecord{
		ID:                uuid.New(),
		VisitorIdentifier: "visitor-42",
		Email:             "visitor@example.com",
		Score:             72.5,
		Tier:              domain.TierHot,
		Excerpt:           "What does the annual plan cost?",
		CreatedAt:         time.Now().UTC(),
	}
}

// newTestSynchronizer stubs out real sleeping and records the delays the
// policy asked for.
func newTestSynchronizer(client ContactUpserter, policy Policy, delays *[]time.Duration) *Synchronizer {
	s := NewSynchronizer(client, policy, nil, "test", logger.New("development"))
	s.jitter = func() float64 { return 0.5 }
	s.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return s
}

func TestSync_SucceedsFirstAttempt(t *testing.T) {
	client := &scriptedUpserter{}
	s := newTestSynchronizer(client, testPolicy(), nil)

	result := s.Sync(context.Background(), testLead())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != domain.AttemptSuccess {
		t.Fatalf("expected one success attempt, got %+v", result.Attempts)
	}
	if result.ContactID == "" {
		t.Fatalf("expected contact ID on success")
	}
	if len(client.noteIDs) != 1 {
		t.Fatalf("expected one activity note, got %d", len(client.noteIDs))
	}
}

func TestSync_RetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedUpserter{errs: []error{
		transient(503, "upstream unavailable"),
		transient(0, "connection reset"),
	}}
	var delays []time.Duration
	s := newTestSynchronizer(client, testPolicy(), &delays)

	result := s.Sync(context.Background(), testLead())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success after retries, got %s", result.Outcome)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(result.Attempts))
	}
	for i, want := range []string{domain.AttemptTransientFailure, domain.AttemptTransientFailure, domain.AttemptSuccess} {
		if result.Attempts[i].Outcome != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, result.Attempts[i].Outcome)
		}
		if result.Attempts[i].Attempt != i+1 {
			t.Fatalf("attempt numbering broken: %+v", result.Attempts[i])
		}
	}

	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff waits, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("backoff delays must be non-decreasing: %v", delays)
		}
	}
}

func TestSync_DeadLettersAtAttemptCap(t *testing.T) {
	policy := testPolicy()
	errs := make([]error, policy.MaxAttempts+3)
	for i := range errs {
		errs[i] = transient(429, "rate limited")
	}
	client := &scriptedUpserter{errs: errs}
	var delays []time.Duration
	s := newTestSynchronizer(client, policy, &delays)

	result := s.Sync(context.Background(), testLead())

	if result.Outcome != OutcomeDeadLettered {
		t.Fatalf("expected dead letter, got %s", result.Outcome)
	}
	if client.calls != policy.MaxAttempts {
		t.Fatalf("expected exactly %d CRM calls, got %d", policy.MaxAttempts, client.calls)
	}
	if len(result.Attempts) != policy.MaxAttempts {
		t.Fatalf("expected %d recorded attempts, got %d", policy.MaxAttempts, len(result.Attempts))
	}
	// No wait after the final attempt.
	if len(delays) != policy.MaxAttempts-1 {
		t.Fatalf("expected %d waits, got %d", policy.MaxAttempts-1, len(delays))
	}
}

func TestSync_PermanentFailureStopsImmediately(t *testing.T) {
	client := &scriptedUpserter{errs: []error{permanent(400, "invalid property")}}
	var delays []time.Duration
	s := newTestSynchronizer(client, testPolicy(), &delays)

	result := s.Sync(context.Background(), testLead())

	if result.Outcome != OutcomePermanentFailure {
		t.Fatalf("expected permanent failure, got %s", result.Outcome)
	}
	if client.calls != 1 {
		t.Fatalf("permanent failure must not retry, got %d calls", client.calls)
	}
	if len(delays) != 0 {
		t.Fatalf("permanent failure must not back off, waited %v", delays)
	}
}

func TestSync_AbortsWhenContextCanceledDuringBackoff(t *testing.T) {
	client := &scriptedUpserter{errs: []error{transient(503, "unavailable"), transient(503, "unavailable")}}
	s := NewSynchronizer(client, testPolicy(), nil, "test", logger.New("development"))
	s.jitter = func() float64 { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result := s.Sync(ctx, testLead())

	if result.Outcome != OutcomeAborted {
		t.Fatalf("expected aborted, got %s", result.Outcome)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call before abort, got %d", client.calls)
	}
}

func TestPolicy_DelayGrowthAndCap(t *testing.T) {
	p := Policy{MaxAttempts: 8, BaseDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second}

	var prev time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		d := p.delay(attempt, nil)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("delay %v exceeds cap %v", d, p.MaxDelay)
		}
		prev = d
	}

	if got := p.delay(1, nil); got != 100*time.Millisecond {
		t.Fatalf("first delay: expected base, got %v", got)
	}
	if got := p.delay(7, nil); got != p.MaxDelay {
		t.Fatalf("late delay must hit cap, got %v", got)
	}
}

func TestPolicy_JitterIsAdditiveOnly(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, JitterFraction: 0.2}

	for attempt := 1; attempt <= 4; attempt++ {
		bare := p.delay(attempt, nil)
		jittered := p.delay(attempt, func() float64 { return 1 })
		if jittered < bare {
			t.Fatalf("jitter must never shorten the delay: %v < %v", jittered, bare)
		}
		if max := bare + time.Duration(0.2*float64(bare)); jittered > max {
			t.Fatalf("jitter exceeds fraction: %v > %v", jittered, max)
		}
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	active := map[string]int{}
	maxActive := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		key := "a"
		if i%2 == 0 {
			key = "b"
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			active[key]++
			if active[key] > maxActive[key] {
				maxActive[key] = active[key]
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[key]--
			mu.Unlock()
			unlock()
		}(key)
	}
	wg.Wait()

	for key, max := range maxActive {
		if max > 1 {
			t.Fatalf("key %s held concurrently by %d goroutines", key, max)
		}
	}
}
