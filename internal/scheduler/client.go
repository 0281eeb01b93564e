package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/hibiken/asynq"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// RedisConnOpt builds the asynq redis connection from configuration.
func RedisConnOpt(cfg config.SchedulerConfig) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if clientOpt, ok := opt.(asynq.RedisClientOpt); ok && cfg.GetRedisTLSInsecure() {
		if clientOpt.TLSConfig == nil {
			clientOpt.TLSConfig = &tls.Config{}
		}
		clientOpt.TLSConfig.InsecureSkipVerify = true
		return clientOpt, nil
	}
	return opt, nil
}

// Client enqueues background jobs.
type Client struct {
	asynq *asynq.Client
	queue string
	log   *logger.Logger
}

func NewClient(cfg config.SchedulerConfig, log *logger.Logger) (*Client, error) {
	opt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		asynq: asynq.NewClient(opt),
		queue: cfg.GetAsynqQueueName(),
		log:   log.WithComponent("scheduler"),
	}, nil
}

// EnqueueLeadSync hands a persisted lead to the sync queue.
func (c *Client) EnqueueLeadSync(ctx context.Context, record domain.LeadRecord) error {
	task, err := NewLeadSyncTask(LeadSyncPayload{
		LeadID:     record.ID,
		Identifier: record.VisitorIdentifier,
	}, c.queue)
	if err != nil {
		return err
	}

	info, err := c.asynq.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskLeadSync, err)
	}

	c.log.Debug("task enqueued", "task_id", info.ID, "type", TaskLeadSync, "lead_id", record.ID)
	return nil
}

func (c *Client) Close() error {
	return c.asynq.Close()
}
