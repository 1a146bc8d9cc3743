package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pemistahl/lingua-go"
	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/metrics"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// AIService is implemented by clients.AIClient
type AIService interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
	GenerateSocial(ctx context.Context, transcript string) (*models.SocialContent, error)
}

// AudioEnricher derives a transcript and social copy from a video's audio
// track. It never fails the caller: every problem collapses to a nil result.
type AudioEnricher struct {
	ai           AIService
	maxChars     int
	timeout      time.Duration
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
	logger       zerolog.Logger
}

// NewAudioEnricher creates a new enricher. maxChars caps the transcript
// excerpt sent for generation; timeout bounds the whole enrichment.
func NewAudioEnricher(ai AIService, maxChars int, timeout time.Duration) *AudioEnricher {
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &AudioEnricher{
		ai:       ai,
		maxChars: maxChars,
		timeout:  timeout,
		logger:   logging.WithComponent("enricher"),
	}
}

// AudioURL swaps the media extension of the last path segment for .mp3,
// relying on the object store transcoding by URL. The query string and
// fragment are kept as they are. URLs without an extension are returned
// unchanged.
func AudioURL(videoURL string) string {
	base, suffix := videoURL, ""
	if i := strings.IndexAny(videoURL, "?#"); i >= 0 {
		base, suffix = videoURL[:i], videoURL[i:]
	}
	dot := strings.LastIndex(base, ".")
	if dot < 0 || dot == len(base)-1 {
		return videoURL
	}
	if strings.Contains(base[dot+1:], "/") {
		return videoURL
	}
	return base[:dot] + ".mp3" + suffix
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Enrich returns the transcript and social copy for videoURL, or nil when
// the audio is silent or any step fails.
func (e *AudioEnricher) Enrich(ctx context.Context, videoURL string) (result *models.Enrichment) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("video_url", videoURL).Msg("enrichment panicked")
			metrics.EnrichmentTotal.WithLabelValues("failed").Inc()
			result = nil
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	enrichment, err := e.enrich(ctx, videoURL)
	if err != nil {
		e.logger.Warn().Err(err).Str("video_url", videoURL).Msg("enrichment skipped")
		metrics.EnrichmentTotal.WithLabelValues("failed").Inc()
		return nil
	}
	if enrichment == nil {
		metrics.EnrichmentTotal.WithLabelValues("empty").Inc()
		return nil
	}

	e.logger.Info().
		Str("video_url", videoURL).
		Int("transcript_chars", len(enrichment.Transcript)).
		Str("language", enrichment.SocialContent.Language).
		Dur("took", time.Since(start)).
		Msg("enrichment complete")
	metrics.EnrichmentTotal.WithLabelValues("success").Inc()
	return enrichment
}

func (e *AudioEnricher) enrich(ctx context.Context, videoURL string) (*models.Enrichment, error) {
	transcript, err := e.ai.Transcribe(ctx, AudioURL(videoURL))
	if err != nil {
		return nil, &models.EnrichmentError{Step: "transcribe", Err: err}
	}
	if strings.TrimSpace(transcript) == "" {
		e.logger.Info().Str("video_url", videoURL).Msg("empty transcript, no social content generated")
		return nil, nil
	}

	social, err := e.ai.GenerateSocial(ctx, Excerpt(transcript, e.maxChars))
	if err != nil {
		return nil, &models.EnrichmentError{Step: "generate", Err: err}
	}
	if social == nil {
		return nil, &models.EnrichmentError{Step: "generate", Err: fmt.Errorf("no content returned")}
	}

	social.Language = e.detectLanguage(transcript)

	return &models.Enrichment{
		Transcript:    transcript,
		SocialContent: social,
	}, nil
}

// detectLanguage returns the ISO 639-1 code of text, or "" when unsure.
func (e *AudioEnricher) detectLanguage(text string) string {
	e.detectorOnce.Do(func() {
		e.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(
				lingua.English, lingua.Spanish, lingua.French, lingua.German,
				lingua.Portuguese, lingua.Italian, lingua.Dutch, lingua.Hindi,
				lingua.Japanese, lingua.Chinese, lingua.Korean, lingua.Russian,
			).
			Build()
	})

	language, ok := e.detector.DetectLanguageOf(Excerpt(text, 2000))
	if !ok {
		return ""
	}
	return strings.ToLower(language.IsoCode639_1().String())
}
