package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

// StorageManager handles PostgreSQL reads and writes for videos and their
// processed frames.
type StorageManager struct {
	db *sql.DB
}

// NewStorageManager opens the connection pool and makes sure the schema exists
func NewStorageManager(ctx context.Context, postgresURL string) (*StorageManager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	sm := NewStorageManagerWithDB(db)
	if err := sm.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return sm, nil
}

// NewStorageManagerWithDB wraps an existing pool without touching the schema.
func NewStorageManagerWithDB(db *sql.DB) *StorageManager {
	return &StorageManager{db: db}
}

// InitSchema creates the tables and indexes if they don't exist. The videos
// table is normally owned by the upload API; creating it here lets the worker
// run against an empty database.
func (sm *StorageManager) InitSchema(ctx context.Context) error {
	tableSchema := `
	CREATE TABLE IF NOT EXISTS videos (
		id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		original_url TEXT NOT NULL,
		original_name TEXT NOT NULL,
		duration DOUBLE PRECISION,
		status VARCHAR(32) NOT NULL DEFAULT 'processing',
		transcript TEXT,
		social_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS processed_frames (
		id VARCHAR(255) PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL UNIQUE,
		user_id VARCHAR(255) NOT NULL,
		video_id VARCHAR(255) NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		image_url TEXT NOT NULL,
		public_id TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	if _, err := sm.db.ExecContext(ctx, tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_videos_user_id ON videos(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_frames_video_id ON processed_frames(video_id)`,
	}

	for _, stmt := range indexStatements {
		if _, err := sm.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}

// UpdateVideoStatus sets the video's status. On completion the transcript is
// written (NULL without enrichment) and social data replaced only when
// enrichment produced some. Repeating the same call is harmless.
func (sm *StorageManager) UpdateVideoStatus(ctx context.Context, videoID string, status models.VideoStatus, enrichment *models.Enrichment) error {
	if status != models.VideoStatusCompleted {
		res, err := sm.db.ExecContext(ctx,
			`UPDATE videos SET status = $2, updated_at = NOW() WHERE id = $1`,
			videoID, string(status),
		)
		return checkUpdate(res, err, "update video status")
	}

	var (
		transcript any
		socialData any
	)
	if enrichment != nil {
		if enrichment.Transcript != "" {
			transcript = enrichment.Transcript
		}
		if enrichment.SocialContent != nil {
			raw, err := json.Marshal(enrichment.SocialContent)
			if err != nil {
				return &models.PersistenceError{Op: "marshal social data", Err: err}
			}
			socialData = string(raw) // lib/pq would send []byte as bytea
		}
	}

	res, err := sm.db.ExecContext(ctx, `
		UPDATE videos
		SET status = $2,
			transcript = $3,
			social_data = COALESCE($4::jsonb, social_data),
			updated_at = NOW()
		WHERE id = $1
	`, videoID, string(status), transcript, socialData)
	return checkUpdate(res, err, "update video status")
}

func checkUpdate(res sql.Result, err error, op string) error {
	if err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	if n == 0 {
		return &models.PersistenceError{Op: op, Err: models.ErrNotFound}
	}
	return nil
}

// CreateProcessedFrame records the winning frame of a job and returns the
// row id. A replay of the same job replaces the earlier row's upload and
// score and keeps its id.
func (sm *StorageManager) CreateProcessedFrame(ctx context.Context, frame *models.ProcessedFrame) (string, error) {
	if frame.ID == "" {
		frame.ID = models.NewFrameID()
	}

	var id string
	err := sm.db.QueryRowContext(ctx, `
		INSERT INTO processed_frames (id, job_id, user_id, video_id, image_url, public_id, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE SET
			image_url = EXCLUDED.image_url,
			public_id = EXCLUDED.public_id,
			score = EXCLUDED.score
		RETURNING id
	`,
		frame.ID,
		frame.JobID,
		frame.UserID,
		frame.VideoID,
		frame.ImageURL,
		frame.PublicID,
		frame.Score,
	).Scan(&id)
	if err != nil {
		return "", &models.PersistenceError{Op: "create processed frame", Err: err}
	}

	frame.ID = id
	return id, nil
}

// GetVideo loads a video row. A missing row yields models.ErrNotFound.
func (sm *StorageManager) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	var (
		v          models.Video
		status     string
		duration   sql.NullFloat64
		transcript sql.NullString
		socialData []byte
	)

	err := sm.db.QueryRowContext(ctx, `
		SELECT id, user_id, original_url, original_name, duration, status, transcript, social_data, created_at, updated_at
		FROM videos
		WHERE id = $1
	`, videoID).Scan(
		&v.ID,
		&v.UserID,
		&v.OriginalURL,
		&v.OriginalName,
		&duration,
		&status,
		&transcript,
		&socialData,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video %s: %w", videoID, err)
	}

	v.Status = models.VideoStatus(status)
	if duration.Valid {
		d := duration.Float64
		v.Duration = &d
	}
	if transcript.Valid {
		t := transcript.String
		v.Transcript = &t
	}
	if len(socialData) > 0 {
		v.SocialData = json.RawMessage(socialData)
	}

	return &v, nil
}

// ListProcessedFrames returns the frames recorded for a video, newest first
func (sm *StorageManager) ListProcessedFrames(ctx context.Context, videoID string) ([]models.ProcessedFrame, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT id, job_id, user_id, video_id, image_url, public_id, score, created_at
		FROM processed_frames
		WHERE video_id = $1
		ORDER BY created_at DESC
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames for %s: %w", videoID, err)
	}
	defer rows.Close()

	var frames []models.ProcessedFrame
	for rows.Next() {
		var f models.ProcessedFrame
		if err := rows.Scan(&f.ID, &f.JobID, &f.UserID, &f.VideoID, &f.ImageURL, &f.PublicID, &f.Score, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Ping checks database connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.db.PingContext(ctx)
}

// Close closes database connections
func (sm *StorageManager) Close() error {
	return sm.db.Close()
}
