package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/metrics"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// Fetcher downloads the source video to a local path
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (string, error)
}

// FrameExtractor writes candidate stills for a local video
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string, count int) ([]string, error)
}

// Scorer rates one still
type Scorer interface {
	Score(path string) (float64, error)
}

// Enricher produces transcript and social copy; nil means none
type Enricher interface {
	Enrich(ctx context.Context, videoURL string) *models.Enrichment
}

// Uploader stores the winning frame
type Uploader interface {
	Upload(ctx context.Context, localPath, folder string) (*models.UploadResult, error)
}

// VideoStore is the relational persistence used by a job
type VideoStore interface {
	UpdateVideoStatus(ctx context.Context, videoID string, status models.VideoStatus, enrichment *models.Enrichment) error
	CreateProcessedFrame(ctx context.Context, frame *models.ProcessedFrame) (string, error)
}

// ProgressPublisher receives stage transitions
type ProgressPublisher interface {
	Publish(ctx context.Context, update models.ProgressUpdate)
}

// Dependencies groups the collaborators of a VideoProcessor. Progress may be nil.
type Dependencies struct {
	Fetcher   Fetcher
	Extractor FrameExtractor
	Scorer    Scorer
	Enricher  Enricher
	Uploader  Uploader
	Store     VideoStore
	Progress  ProgressPublisher
}

// Config holds per-job settings
type Config struct {
	TempDir          string
	FrameCount       int
	UploadFolder     string
	ScoreConcurrency int // Default: number of CPUs
}

// failedStatusTimeout bounds the final "failed" write, which runs even after
// the job context has expired.
const failedStatusTimeout = 10 * time.Second

// VideoProcessor runs one job attempt through download, extraction and
// enrichment, scoring, upload and persistence, then cleans up.
type VideoProcessor struct {
	deps   Dependencies
	cfg    Config
	logger zerolog.Logger
}

// NewVideoProcessor creates a new video processor
func NewVideoProcessor(deps Dependencies, cfg Config) *VideoProcessor {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.FrameCount < 1 {
		cfg.FrameCount = 5
	}
	if cfg.UploadFolder == "" {
		cfg.UploadFolder = "pixelate/thumbnails"
	}
	if cfg.ScoreConcurrency < 1 {
		cfg.ScoreConcurrency = runtime.NumCPU()
	}

	return &VideoProcessor{
		deps:   deps,
		cfg:    cfg,
		logger: logging.WithComponent("processor"),
	}
}

// TempPaths returns the scratch video file and frame directory of a job.
func (vp *VideoProcessor) TempPaths(jobID string) (videoPath, framesDir string) {
	return filepath.Join(vp.cfg.TempDir, "job-"+jobID+".mp4"),
		filepath.Join(vp.cfg.TempDir, "frames-"+jobID)
}

// Process runs a job attempt. On any fatal error the video is marked failed
// and the error returned for the queue to retry. Scratch files are removed
// on every path.
func (vp *VideoProcessor) Process(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	start := time.Now()
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	logger := vp.logger.With().
		Str("job_id", job.ID).
		Str("video_id", job.VideoID).
		Int("attempt", job.Attempt).
		Logger()

	videoPath, framesDir := vp.TempPaths(job.ID)
	defer vp.cleanup(logger, videoPath, framesDir)

	logger.Info().Str("source", job.SourceURL).Str("name", job.OriginalName).Msg("job started")

	result, err := vp.run(ctx, job, videoPath, framesDir, logger)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")

		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failedStatusTimeout)
		defer cancel()
		if uerr := vp.deps.Store.UpdateVideoStatus(failCtx, job.VideoID, models.VideoStatusFailed, nil); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to mark video failed")
		}
		vp.publish(failCtx, job, models.StageFailed, 100, err.Error())
		return nil, err
	}

	result.ProcessingTime = time.Since(start).Seconds()
	metrics.JobsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	metrics.BestFrameScore.Observe(result.BestScore)

	logger.Info().
		Str("url", result.UploadedURL).
		Float64("score", result.BestScore).
		Bool("enriched", result.EnrichmentSucceeded).
		Dur("took", time.Since(start)).
		Msg("job completed")

	return result, nil
}

func (vp *VideoProcessor) run(ctx context.Context, job *models.Job, videoPath, framesDir string, logger zerolog.Logger) (*models.JobResult, error) {
	vp.publish(ctx, job, models.StageStarted, 0, "Job started")

	// Download
	vp.publish(ctx, job, models.StageDownloading, 5, "Downloading video")
	done := observeStage(models.StageDownloading)
	if _, err := vp.deps.Fetcher.Fetch(ctx, job.SourceURL, videoPath); err != nil {
		var fetchErr *models.FetchError
		if !errors.As(err, &fetchErr) {
			err = &models.FetchError{URL: job.SourceURL, Err: err}
		}
		return nil, err
	}
	done()

	// Extraction and enrichment run side by side. Only extraction can fail
	// the group; cancelling it also stops enrichment.
	vp.publish(ctx, job, models.StageExtracting, 20, "Extracting frames")
	vp.publish(ctx, job, models.StageEnriching, 20, "Transcribing audio")
	var (
		frames     []string
		enrichment *models.Enrichment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer observeStage(models.StageExtracting)()
		paths, err := vp.deps.Extractor.Extract(gctx, videoPath, framesDir, vp.cfg.FrameCount)
		if err != nil {
			return err
		}
		frames = paths
		return nil
	})
	g.Go(func() error {
		defer observeStage(models.StageEnriching)()
		enrichment = vp.enrich(gctx, job.SourceURL, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		var extractErr *models.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &models.ExtractionError{VideoPath: videoPath, Err: err}
		}
		return nil, err
	}
	if len(frames) == 0 {
		return nil, &models.ExtractionError{VideoPath: videoPath, Err: models.ErrNoFrames}
	}
	logger.Info().Int("frames", len(frames)).Bool("enriched", enrichment != nil).Msg("frames extracted")

	// Score and rank
	vp.publish(ctx, job, models.StageScoring, 60, fmt.Sprintf("Scoring %d frames", len(frames)))
	done = observeStage(models.StageScoring)
	ranked := RankFrames(vp.scoreFrames(frames, logger))
	done()

	best := ranked[0]
	if math.IsInf(best.Score, -1) {
		return nil, models.ErrNoScorableFrames
	}
	logger.Info().Int("frame", best.Index+1).Float64("score", best.Score).Msg("best frame selected")

	// Upload
	vp.publish(ctx, job, models.StageUploading, 75, "Uploading best frame")
	done = observeStage(models.StageUploading)
	upload, err := vp.deps.Uploader.Upload(ctx, best.Path, vp.cfg.UploadFolder)
	if err != nil {
		var uploadErr *models.UploadError
		if !errors.As(err, &uploadErr) {
			err = &models.UploadError{Path: best.Path, Err: err}
		}
		return nil, err
	}
	done()

	// Persist
	vp.publish(ctx, job, models.StagePersisting, 90, "Saving results")
	done = observeStage(models.StagePersisting)
	if err := vp.deps.Store.UpdateVideoStatus(ctx, job.VideoID, models.VideoStatusCompleted, enrichment); err != nil {
		return nil, asPersistenceError("update video status", err)
	}
	recordID, err := vp.deps.Store.CreateProcessedFrame(ctx, &models.ProcessedFrame{
		JobID:    job.ID,
		UserID:   job.UserID,
		VideoID:  job.VideoID,
		ImageURL: upload.URL,
		PublicID: upload.PublicID,
		Score:    best.Score,
	})
	if err != nil {
		return nil, asPersistenceError("create processed frame", err)
	}
	done()

	vp.publish(ctx, job, models.StageCompleted, 100, "Processing complete")

	return &models.JobResult{
		UploadedURL:         upload.URL,
		UploadedPublicID:    upload.PublicID,
		BestScore:           best.Score,
		DBRecordID:          recordID,
		EnrichmentSucceeded: enrichment != nil,
		FramesExtracted:     len(frames),
	}, nil
}

// enrich shields the job from a misbehaving enricher.
func (vp *VideoProcessor) enrich(ctx context.Context, videoURL string, logger zerolog.Logger) (result *models.Enrichment) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("enrichment panicked")
			result = nil
		}
	}()
	return vp.deps.Enricher.Enrich(ctx, videoURL)
}

// scoreFrames scores every frame concurrently. A frame that cannot be
// scored gets -Inf so it never wins.
func (vp *VideoProcessor) scoreFrames(paths []string, logger zerolog.Logger) []models.CandidateFrame {
	candidates := make([]models.CandidateFrame, len(paths))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, vp.cfg.ScoreConcurrency)

	for i, path := range paths {
		wg.Add(1)

		go func(index int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			candidates[index] = models.CandidateFrame{Index: index, Path: path, Score: math.Inf(-1)}

			score, err := vp.safeScore(path)
			if err != nil {
				logger.Warn().Err(err).Str("frame", path).Msg("frame could not be scored")
				return
			}
			candidates[index].Score = score
		}(i, path)
	}

	wg.Wait()
	return candidates
}

func (vp *VideoProcessor) safeScore(path string) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.ScoreError{Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	score, err = vp.deps.Scorer.Score(path)
	if err == nil && math.IsNaN(score) {
		err = &models.ScoreError{Path: path, Err: errors.New("score is NaN")}
	}
	return score, err
}

// RankFrames orders candidates by descending score. Equal scores keep
// extraction order, so the earliest frame wins a tie.
func RankFrames(candidates []models.CandidateFrame) []models.CandidateFrame {
	ranked := make([]models.CandidateFrame, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func (vp *VideoProcessor) cleanup(logger zerolog.Logger, videoPath, framesDir string) {
	if err := os.RemoveAll(framesDir); err != nil {
		logger.Warn().Err(&models.CleanupError{Path: framesDir, Err: err}).Msg("cleanup failed")
	}
	if err := os.Remove(videoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(&models.CleanupError{Path: videoPath, Err: err}).Msg("cleanup failed")
	}
}

func (vp *VideoProcessor) publish(ctx context.Context, job *models.Job, stage models.Stage, progress float64, message string) {
	vp.logger.Debug().Str("job_id", job.ID).Str("stage", string(stage)).Msg(message)
	if vp.deps.Progress == nil {
		return
	}
	vp.deps.Progress.Publish(ctx, models.ProgressUpdate{
		VideoID:   job.VideoID,
		JobID:     job.ID,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func observeStage(stage models.Stage) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

func asPersistenceError(op string, err error) error {
	var persistErr *models.PersistenceError
	if errors.As(err, &persistErr) {
		return err
	}
	return &models.PersistenceError{Op: op, Err: err}
}
