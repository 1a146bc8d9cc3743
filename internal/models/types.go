package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobPayload is the inbound task body enqueued by the upload API.
// All four fields are required.
type JobPayload struct {
	VideoID      string `json:"videoId"`
	VideoURL     string `json:"videoUrl"`
	UserID       string `json:"userId"`
	OriginalName string `json:"originalName"`
}

// Validate checks that every required field is present and the URL is fetchable.
func (p *JobPayload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.VideoID) == "" {
		missing = append(missing, "videoId")
	}
	if strings.TrimSpace(p.VideoURL) == "" {
		missing = append(missing, "videoUrl")
	}
	if strings.TrimSpace(p.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(p.OriginalName) == "" {
		missing = append(missing, "originalName")
	}
	if len(missing) > 0 {
		return fmt.Errorf("job payload missing required fields: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(p.VideoURL, "http://") && !strings.HasPrefix(p.VideoURL, "https://") {
		return fmt.Errorf("job payload videoUrl is not an http(s) URL: %s", p.VideoURL)
	}
	return nil
}

// Job is one delivery attempt of a payload, identified by the queue's task id.
type Job struct {
	ID           string
	VideoID      string
	SourceURL    string
	UserID       string
	OriginalName string
	Attempt      int
}

// NewJob builds a Job from a decoded payload. An empty id gets a fresh uuid.
func NewJob(id string, attempt int, p JobPayload) *Job {
	if id == "" {
		id = NewJobID()
	}
	return &Job{
		ID:           id,
		VideoID:      p.VideoID,
		SourceURL:    p.VideoURL,
		UserID:       p.UserID,
		OriginalName: p.OriginalName,
		Attempt:      attempt,
	}
}

// VideoStatus is the lifecycle state of a Video row.
type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Video mirrors the videos table. Transcript and SocialData stay nil when
// enrichment did not produce anything.
type Video struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	OriginalURL  string          `json:"originalUrl"`
	OriginalName string          `json:"originalName"`
	Duration     *float64        `json:"duration,omitempty"`
	Status       VideoStatus     `json:"status"`
	Transcript   *string         `json:"transcript,omitempty"`
	SocialData   json.RawMessage `json:"socialData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CandidateFrame is an extracted still and its score. It lives only for the
// duration of a job attempt.
type CandidateFrame struct {
	Index int
	Path  string
	Score float64
}

// ProcessedFrame mirrors the processed_frames table: the single winning frame
// of a successful job.
type ProcessedFrame struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	ImageURL  string    `json:"imageUrl"`
	PublicID  string    `json:"publicId"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// SocialContent is the structured copy requested from the text-generation model.
type SocialContent struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Twitter     []string `json:"twitter"`
	LinkedIn    string   `json:"linkedin"`
	Instagram   string   `json:"instagram"`
	Language    string   `json:"language,omitempty"`
}

// Enrichment is the best-effort output of the audio pipeline.
type Enrichment struct {
	Transcript    string         `json:"transcript"`
	SocialContent *SocialContent `json:"socialContent"`
}

// UploadResult is what the object store returns for an uploaded frame.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// JobResult is returned to the queue (and the subprocess caller) on success.
type JobResult struct {
	UploadedURL         string  `json:"uploadedUrl"`
	UploadedPublicID    string  `json:"uploadedPublicId"`
	BestScore           float64 `json:"bestScore"`
	DBRecordID          string  `json:"dbRecordId"`
	EnrichmentSucceeded bool    `json:"enrichmentSucceeded"`
	FramesExtracted     int     `json:"framesExtracted"`
	ProcessingTime      float64 `json:"processingTime"` // Seconds
}

// Stage names the state machine positions of a job attempt.
type Stage string

const (
	StageStarted     Stage = "started"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageEnriching   Stage = "enriching"
	StageScoring     Stage = "scoring"
	StageUploading   Stage = "uploading"
	StagePersisting  Stage = "persisting"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// ProgressUpdate is published on every stage transition.
type ProgressUpdate struct {
	VideoID   string    `json:"videoId"`
	JobID     string    `json:"jobId"`
	Stage     Stage     `json:"stage"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalBinary lets go-redis publish the update as JSON.
func (u ProgressUpdate) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

// NewJobID generates a unique job ID
func NewJobID() string {
	return uuid.New().String()
}

// NewFrameID generates a unique frame ID
func NewFrameID() string {
	return uuid.New().String()
}
