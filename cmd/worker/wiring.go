package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/Rudra775/pixelate-saas/internal/clients"
	"github.com/Rudra775/pixelate-saas/internal/config"
	"github.com/Rudra775/pixelate-saas/internal/extractor"
	"github.com/Rudra775/pixelate-saas/internal/models"
	"github.com/Rudra775/pixelate-saas/internal/processor"
	"github.com/Rudra775/pixelate-saas/internal/scoring"
	"github.com/Rudra775/pixelate-saas/internal/storage"
	"github.com/Rudra775/pixelate-saas/internal/utils"
)

// noEnrichment stands in when no AI key is configured.
type noEnrichment struct{}

func (noEnrichment) Enrich(ctx context.Context, videoURL string) *models.Enrichment { return nil }

func newProcessor(ctx context.Context, store processor.VideoStore, progress processor.ProgressPublisher) (*processor.VideoProcessor, error) {
	ffmpeg, err := utils.NewFFmpegHelper(cfg.FFmpegTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg: %w", err)
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var enricher processor.Enricher = noEnrichment{}
	if cfg.AIAPIKey != "" {
		ai := clients.NewAIClient(clients.AIClientConfig{
			APIKey:          cfg.AIAPIKey,
			BaseURL:         cfg.AIBaseURL,
			TranscribeModel: cfg.TranscribeModel,
			GenerateModel:   cfg.GenerateModel,
			RatePerMinute:   cfg.AIRatePerMinute,
		})
		enricher = extractor.NewAudioEnricher(ai, cfg.TranscriptMaxChars, cfg.AITimeout)
	} else {
		log.Warn().Msg("AI_API_KEY not set, transcripts and social copy are disabled")
	}

	deps := processor.Dependencies{
		Fetcher: utils.NewHTTPDownloader(&utils.HTTPDownloaderConfig{
			MaxRetries:  cfg.DownloadRetries,
			MaxFileSize: cfg.MaxVideoSize,
		}),
		Extractor: extractor.NewFrameExtractor(ffmpeg, runtime.NumCPU()),
		Scorer:    scoring.NewFrameScorer(),
		Enricher:  enricher,
		Uploader:  uploader,
		Store:     store,
		Progress:  progress,
	}

	return processor.NewVideoProcessor(deps, processor.Config{
		TempDir:      cfg.TempDir,
		FrameCount:   cfg.FrameCount,
		UploadFolder: cfg.UploadFolder,
	}), nil
}

func newUploader(ctx context.Context, c config.Config) (processor.Uploader, error) {
	switch c.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, c.S3Bucket, c.AWSRegion, c.S3PublicBaseURL)
	case "cloudinary":
		return storage.NewCloudinaryStore(c.CloudinaryURL)
	}
	return nil, fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
}
