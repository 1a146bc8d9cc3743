package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

// RedisProducerConfig holds producer configuration
type RedisProducerConfig struct {
	RedisURL  string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration // Default: 24h
}

// RedisProducer enqueues jobs and looks up their state.
type RedisProducer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      []asynq.Option
}

// JobStatus is the queue's view of a task
type JobStatus struct {
	ID           string            `json:"id"`
	State        string            `json:"state"`
	Retried      int               `json:"retried"`
	MaxRetry     int               `json:"maxRetry"`
	LastError    string            `json:"lastError,omitempty"`
	LastFailedAt *time.Time        `json:"lastFailedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Payload      models.JobPayload `json:"payload"`
	Result       *models.JobResult `json:"result,omitempty"`
}

// NewRedisProducer creates a new producer
func NewRedisProducer(config *RedisProducerConfig) (*RedisProducer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &RedisProducer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      TaskOptions(config.MaxRetry, config.Timeout, config.Retention),
	}, nil
}

// TaskOptions are the enqueue options every video task carries.
func TaskOptions(maxRetry int, timeout, retention time.Duration) []asynq.Option {
	if retention <= 0 {
		retention = DefaultRetention
	}
	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return opts
}

// Enqueue submits a job and returns its task id, which is also the job id.
func (p *RedisProducer) Enqueue(ctx context.Context, payload models.JobPayload) (string, error) {
	task, err := NewProcessTask(payload)
	if err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task, p.opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue video %s: %w", payload.VideoID, err)
	}
	return info.ID, nil
}

// JobStatus returns the state of a task, or models.ErrNotFound once it has
// aged out of retention.
func (p *RedisProducer) JobStatus(ctx context.Context, id string) (*JobStatus, error) {
	info, err := p.inspector.GetTaskInfo(QueueName, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inspect task %s: %w", id, err)
	}
	return statusFromInfo(info), nil
}

func statusFromInfo(info *asynq.TaskInfo) *JobStatus {
	status := &JobStatus{
		ID:        info.ID,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if !info.LastFailedAt.IsZero() {
		t := info.LastFailedAt
		status.LastFailedAt = &t
	}
	if !info.CompletedAt.IsZero() {
		t := info.CompletedAt
		status.CompletedAt = &t
	}
	// Both decodes are best effort; the task state is still useful without them.
	_ = json.Unmarshal(info.Payload, &status.Payload)
	if len(info.Result) > 0 {
		var result models.JobResult
		if json.Unmarshal(info.Result, &result) == nil {
			status.Result = &result
		}
	}
	return status
}

// Close releases the Redis connections
func (p *RedisProducer) Close() error {
	return errors.Join(p.client.Close(), p.inspector.Close())
}
