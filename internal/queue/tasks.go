package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

const (
	// TypeVideoProcess is the task type the upload API enqueues.
	TypeVideoProcess = "video:process"

	// QueueName is the single queue this worker serves.
	QueueName = "video-processing"

	// DefaultRetention keeps finished tasks inspectable for a day.
	DefaultRetention = 24 * time.Hour

	maxRetryDelay = time.Minute
)

// NewProcessTask validates and encodes a payload.
func NewProcessTask(payload models.JobPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return asynq.NewTask(TypeVideoProcess, data), nil
}

// RetryDelay is the backoff after a task has failed n+1 times: 1s, 2s, 4s
// and so on, capped at one minute.
func RetryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 6 {
		return maxRetryDelay
	}
	d := time.Second << uint(n)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
