package processor

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// ProgressStream keeps a bounded history of updates for clients that
// subscribe late.
const ProgressStream = "pixelate:progress"

// ProgressChannel is the pub/sub channel for one video's updates.
func ProgressChannel(videoID string) string {
	return fmt.Sprintf("pixelate:progress:%s", videoID)
}

// RedisProgressPublisher publishes stage transitions over Redis pub/sub
// and appends them to ProgressStream.
type RedisProgressPublisher struct {
	client *redis.Client
	maxLen int64
	logger zerolog.Logger
}

// NewRedisProgressPublisher creates a new publisher
func NewRedisProgressPublisher(client *redis.Client) *RedisProgressPublisher {
	return &RedisProgressPublisher{
		client: client,
		maxLen: 10000,
		logger: logging.WithComponent("progress"),
	}
}

// Publish never fails the job; errors are logged.
func (p *RedisProgressPublisher) Publish(ctx context.Context, update models.ProgressUpdate) {
	if err := p.client.Publish(ctx, ProgressChannel(update.VideoID), update).Err(); err != nil {
		p.logger.Warn().Err(err).Str("video_id", update.VideoID).Msg("failed to publish progress")
		return
	}

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ProgressStream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"videoId":   update.VideoID,
			"jobId":     update.JobID,
			"stage":     string(update.Stage),
			"progress":  fmt.Sprintf("%.0f", update.Progress),
			"message":   update.Message,
			"timestamp": update.Timestamp.UnixMilli(),
		},
	}).Err()
	if err != nil {
		p.logger.Warn().Err(err).Str("video_id", update.VideoID).Msg("failed to append progress to stream")
	}
}
