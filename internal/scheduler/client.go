package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"crm_saas_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const campaignSendRetries = 3

// Client enqueues on-demand tasks. The API holds one when Redis is configured.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, queue, err := connection(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueCampaignSend queues a campaign send, delayed until runAt when it is in the future.
func (c *Client) EnqueueCampaignSend(ctx context.Context, tenantID, campaignID uuid.UUID, runAt *time.Time) error {
	task, err := NewCampaignSendTask(CampaignSendPayload{TenantID: tenantID, CampaignID: campaignID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(c.queue), asynq.MaxRetry(campaignSendRetries)}
	if runAt != nil {
		opts = append(opts, asynq.ProcessAt(*runAt))
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue campaign send: %w", err)
	}
	return nil
}

func connection(cfg config.SchedulerConfig) (asynq.RedisClientOpt, string, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return asynq.RedisClientOpt{}, "", fmt.Errorf("redis url not configured")
	}
	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return asynq.RedisClientOpt{}, "", err
	}
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return opt, queue, nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
