package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/metrics"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// JobRunner executes one job attempt
type JobRunner interface {
	Process(ctx context.Context, job *models.Job) (*models.JobResult, error)
}

// RedisConsumer consumes video processing jobs from Redis queue
type RedisConsumer struct {
	server     *asynq.Server
	runner     JobRunner
	jobTimeout time.Duration
	logger     zerolog.Logger
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL        string
	Concurrency     int
	ShutdownTimeout time.Duration // Default: 30s
	JobTimeout      time.Duration // Applied on top of any per-task deadline
	Runner          JobRunner
}

// NewRedisConsumer creates a new Redis queue consumer
func NewRedisConsumer(config *RedisConsumerConfig) (*RedisConsumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}

	rc := &RedisConsumer{
		runner:     config.Runner,
		jobTimeout: config.JobTimeout,
		logger:     logging.WithComponent("consumer"),
	}

	rc.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				QueueName: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return RetryDelay(n)
			},
			ErrorHandler:    asynq.ErrorHandlerFunc(rc.handleError),
			ShutdownTimeout: shutdownTimeout,
			Logger:          asynqLogger{logger: logging.WithComponent("asynq")},
		},
	)

	return rc, nil
}

// Start begins processing in the background
func (rc *RedisConsumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeVideoProcess, rc.handleProcessTask)

	rc.logger.Info().Str("queue", QueueName).Msg("starting worker")

	if err := rc.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop waits for in-flight jobs up to the shutdown timeout, then returns
// unfinished ones to the queue.
func (rc *RedisConsumer) Stop() {
	rc.logger.Info().Msg("shutting down worker")
	rc.server.Shutdown()
}

// handleProcessTask handles video processing tasks
func (rc *RedisConsumer) handleProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload models.JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return fmt.Errorf("failed to unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	job := models.NewJob(taskID, retried+1, payload)

	if rc.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.jobTimeout)
		defer cancel()
	}

	result, err := rc.runner.Process(ctx, job)
	if err != nil {
		var fetchErr *models.FetchError
		if errors.As(err, &fetchErr) && !fetchErr.Retryable() {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if w := task.ResultWriter(); w != nil {
		data, err := json.Marshal(result)
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			rc.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to store job result")
		}
	}
	return nil
}

func (rc *RedisConsumer) handleError(ctx context.Context, task *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	event := rc.logger.Error()
	if !models.IsFatal(err) && !errors.Is(err, asynq.SkipRetry) {
		// Not one of the pipeline's error classes; usually a bug.
		event = event.Bool("unclassified", true)
	}
	event.Err(err).
		Str("task_id", taskID).
		Str("type", task.Type()).
		Int("retried", retried).
		Int("max_retry", maxRetry).
		Bool("final", retried >= maxRetry || errors.Is(err, asynq.SkipRetry)).
		Msg("task failed")
}
