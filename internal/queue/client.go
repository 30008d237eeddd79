package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type policy struct {
	maxRetry  int
	timeout   time.Duration
	retention time.Duration
}

// Compose retries a few times since the generation call behind it is the
// flaky part of a job. Enhance is local CPU work and retries once.
var policies = map[string]policy{
	TypeComposeMockup: {maxRetry: 3, timeout: 5 * time.Minute, retention: 24 * time.Hour},
	TypeEnhanceImage:  {maxRetry: 1, timeout: 3 * time.Minute, retention: 24 * time.Hour},
}

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueComposeMockup(ctx context.Context, payload ComposeMockupPayload) (*asynq.TaskInfo, error) {
	task, err := NewComposeMockupTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueEnhanceImage(ctx context.Context, payload EnhanceImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewEnhanceImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := c.client.EnqueueContext(ctx, task, taskOptions(c.queue, task.Type())...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

func taskOptions(queueName, taskType string) []asynq.Option {
	p, ok := policies[taskType]
	if !ok {
		return []asynq.Option{asynq.Queue(queueName)}
	}
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(p.maxRetry),
		asynq.Timeout(p.timeout),
		asynq.Retention(p.retention),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
