// Package scheduler queues and executes background jobs over asynq.
package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskLeadSync pushes one persisted lead to the CRM.
const TaskLeadSync = "lead.sync"

// LeadSyncPayload identifies the lead to synchronize. The worker reloads the
// record from the database, so a lead updated between enqueue and execution
// syncs with its latest state.
type LeadSyncPayload struct {
	LeadID     uuid.UUID `json:"lead_id"`
	Identifier string    `json:"identifier"`
}

// NewLeadSyncTask builds the asynq task for a lead. Retries are disabled at
// the queue level: the synchronizer owns the retry schedule so every attempt
// is recorded in the lead's history.
func NewLeadSyncTask(payload LeadSyncPayload, queue string) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadSync, data,
		asynq.MaxRetry(0),
		asynq.Queue(queue),
	), nil
}
