package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// Transcoder is the subset of the ffmpeg helper the extractor needs.
type Transcoder interface {
	ProbeDuration(ctx context.Context, videoPath string) (float64, error)
	ExtractFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error
}

// FrameExtractor samples evenly spaced stills from a local video
type FrameExtractor struct {
	ffmpeg      Transcoder
	concurrency int
	logger      zerolog.Logger
}

// NewFrameExtractor creates a new frame extractor
func NewFrameExtractor(ffmpeg Transcoder, concurrency int) *FrameExtractor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FrameExtractor{
		ffmpeg:      ffmpeg,
		concurrency: concurrency,
		logger:      logging.WithComponent("frame-extractor"),
	}
}

// Timestamps returns count instants spread over duration, excluding both ends:
// the i-th (0-based) sits at (i+1)/(count+1) of the way through.
func Timestamps(duration float64, count int) []float64 {
	if count < 1 || duration <= 0 {
		return nil
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = duration * float64(i+1) / float64(count+1)
	}
	return out
}

// FrameName is the file name of the 1-based n-th frame.
func FrameName(n int) string {
	return fmt.Sprintf("frame-%02d.jpg", n)
}

// Extract writes count frames into outDir and returns their paths in
// timestamp order. Any transcoder failure, or an empty result, is an
// *models.ExtractionError.
func (fe *FrameExtractor) Extract(ctx context.Context, videoPath, outDir string, count int) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, &models.ExtractionError{VideoPath: videoPath, Err: fmt.Errorf("create output directory: %w", err)}
	}

	duration, err := fe.ffmpeg.ProbeDuration(ctx, videoPath)
	if err != nil {
		return nil, &models.ExtractionError{VideoPath: videoPath, Err: err}
	}

	timestamps := Timestamps(duration, count)
	if len(timestamps) == 0 {
		return nil, &models.ExtractionError{VideoPath: videoPath, Err: models.ErrNoFrames}
	}

	paths := make([]string, len(timestamps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fe.concurrency)

	for i, ts := range timestamps {
		i, ts := i, ts
		g.Go(func() error {
			out := filepath.Join(outDir, FrameName(i+1))
			if err := fe.ffmpeg.ExtractFrame(gctx, videoPath, ts, out); err != nil {
				return err
			}
			paths[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &models.ExtractionError{VideoPath: videoPath, Err: err}
	}

	fe.logger.Debug().
		Str("video", videoPath).
		Float64("duration", duration).
		Int("frames", len(paths)).
		Msg("frames extracted")

	return paths, nil
}
