package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

const socialSystemPrompt = `You are a social media manager. Given a video transcript, respond with a single JSON object with exactly these keys:
"title": a catchy video title,
"description": a two or three sentence video description,
"twitter": an array of 3 short tweets,
"linkedin": one professional LinkedIn post,
"instagram": one Instagram caption with hashtags.
Respond with JSON only.`

// AIClientConfig holds settings for the OpenAI-compatible endpoint
type AIClientConfig struct {
	APIKey          string
	BaseURL         string // e.g. https://api.groq.com/openai/v1
	TranscribeModel string
	GenerateModel   string
	RatePerMinute   int // 0 disables client-side limiting
	HTTPClient      *http.Client
}

// AIClient talks to an OpenAI-compatible API for transcription and
// structured text generation.
type AIClient struct {
	api             *openai.Client
	httpClient      *http.Client
	transcribeModel string
	generateModel   string
	limiter         *rate.Limiter
}

// NewAIClient creates a new AI client
func NewAIClient(cfg AIClientConfig) *AIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = httpClient

	transcribeModel := cfg.TranscribeModel
	if transcribeModel == "" {
		transcribeModel = openai.Whisper1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}

	return &AIClient{
		limiter:         limiter,
		api:             openai.NewClientWithConfig(apiCfg),
		httpClient:      httpClient,
		transcribeModel: transcribeModel,
		generateModel:   cfg.GenerateModel,
	}
}

// Transcribe streams the audio at audioURL into the transcription endpoint
// and returns the recognised text.
func (c *AIClient) Transcribe(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("build audio request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return "", fmt.Errorf("fetch audio: HTTP %d", resp.StatusCode)
	}

	name := path.Base(strings.SplitN(audioURL, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "audio.mp3"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("transcription rate limit: %w", err)
	}
	out, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		Reader:   resp.Body,
		FilePath: name,
	})
	if err != nil {
		return "", fmt.Errorf("transcription error: %w", err)
	}

	return out.Text, nil
}

// GenerateSocial asks the text model for structured social copy. A reply
// that is not the expected JSON object is an error.
func (c *AIClient) GenerateSocial(ctx context.Context, transcript string) (*models.SocialContent, error) {
	req := openai.ChatCompletionRequest{
		Model: c.generateModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: socialSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Transcript:\n%s", transcript),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("generation rate limit: %w", err)
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error generating social content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	return ParseSocialContent(resp.Choices[0].Message.Content)
}

// ParseSocialContent decodes a model reply. Replies wrapped in a markdown
// code fence are accepted.
func ParseSocialContent(raw string) (*models.SocialContent, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}

	var content models.SocialContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, fmt.Errorf("malformed social content: %w", err)
	}
	if content.Title == "" && content.Description == "" && len(content.Twitter) == 0 &&
		content.LinkedIn == "" && content.Instagram == "" {
		return nil, errors.New("social content has no recognised fields")
	}
	return &content, nil
}
