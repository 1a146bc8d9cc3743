package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

func newMock(t *testing.T) (*StorageManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStorageManagerWithDB(db), mock
}

func TestInitSchema(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS videos").WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 3; i++ {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := sm.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateVideoStatusFailedTouchesOnlyStatus(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectExec(`UPDATE videos SET status = \$2, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs("v1", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sm.UpdateVideoStatus(context.Background(), "v1", models.VideoStatusFailed, nil); err != nil {
		t.Fatalf("UpdateVideoStatus error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateVideoStatusCompletedWithEnrichment(t *testing.T) {
	sm, mock := newMock(t)

	enrichment := &models.Enrichment{
		Transcript:    "hello",
		SocialContent: &models.SocialContent{Title: "T", Twitter: []string{"a"}},
	}

	mock.ExpectExec(`UPDATE videos\s+SET status = \$2,\s+transcript = \$3,\s+social_data = COALESCE`).
		WithArgs("v1", "completed", "hello", `{"title":"T","description":"","twitter":["a"],"linkedin":"","instagram":""}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sm.UpdateVideoStatus(context.Background(), "v1", models.VideoStatusCompleted, enrichment); err != nil {
		t.Fatalf("UpdateVideoStatus error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateVideoStatusCompletedWithoutEnrichment(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectExec(`UPDATE videos\s+SET status = \$2`).
		WithArgs("v1", "completed", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sm.UpdateVideoStatus(context.Background(), "v1", models.VideoStatusCompleted, nil); err != nil {
		t.Fatalf("UpdateVideoStatus error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateVideoStatusMissingRow(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectExec(`UPDATE videos SET status`).
		WithArgs("ghost", "failed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := sm.UpdateVideoStatus(context.Background(), "ghost", models.VideoStatusFailed, nil)
	var persistErr *models.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound cause, got %v", err)
	}
}

func TestUpdateVideoStatusDatabaseError(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectExec(`UPDATE videos SET status`).WillReturnError(errors.New("connection reset"))

	err := sm.UpdateVideoStatus(context.Background(), "v1", models.VideoStatusFailed, nil)
	if !models.IsFatal(err) {
		t.Fatalf("database error should be fatal, got %v", err)
	}
}

func TestCreateProcessedFrameUpsertsOnJobID(t *testing.T) {
	sm, mock := newMock(t)

	frame := &models.ProcessedFrame{
		JobID:    "job-1",
		UserID:   "u1",
		VideoID:  "v1",
		ImageURL: "https://res.cloudinary.com/demo/image/upload/frame.jpg",
		PublicID: "pixelate/thumbnails/frame",
		Score:    1234.5,
	}

	mock.ExpectQuery(`INSERT INTO processed_frames .* ON CONFLICT \(job_id\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "job-1", "u1", "v1", frame.ImageURL, frame.PublicID, 1234.5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := sm.CreateProcessedFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("CreateProcessedFrame error: %v", err)
	}
	if id != "existing-id" || frame.ID != "existing-id" {
		t.Errorf("id = %q, frame.ID = %q, want existing-id", id, frame.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateProcessedFrameError(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO processed_frames`).WillReturnError(errors.New("fk violation"))

	_, err := sm.CreateProcessedFrame(context.Background(), &models.ProcessedFrame{JobID: "j"})
	var persistErr *models.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestGetVideo(t *testing.T) {
	sm, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "original_url", "original_name", "duration", "status", "transcript", "social_data", "created_at", "updated_at"}).
		AddRow("v1", "u1", "https://cdn/x.mp4", "x.mp4", 12.5, "completed", "hello", []byte(`{"title":"T"}`), now, now)
	mock.ExpectQuery(`SELECT .* FROM videos`).WithArgs("v1").WillReturnRows(rows)

	v, err := sm.GetVideo(context.Background(), "v1")
	if err != nil {
		t.Fatalf("GetVideo error: %v", err)
	}
	if v.Status != models.VideoStatusCompleted {
		t.Errorf("Status = %q", v.Status)
	}
	if v.Duration == nil || *v.Duration != 12.5 {
		t.Errorf("Duration = %v", v.Duration)
	}
	if v.Transcript == nil || *v.Transcript != "hello" {
		t.Errorf("Transcript = %v", v.Transcript)
	}
	if string(v.SocialData) != `{"title":"T"}` {
		t.Errorf("SocialData = %s", v.SocialData)
	}
}

func TestGetVideoNullableColumns(t *testing.T) {
	sm, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "original_url", "original_name", "duration", "status", "transcript", "social_data", "created_at", "updated_at"}).
		AddRow("v1", "u1", "https://cdn/x.mp4", "x.mp4", nil, "processing", nil, nil, now, now)
	mock.ExpectQuery(`SELECT .* FROM videos`).WithArgs("v1").WillReturnRows(rows)

	v, err := sm.GetVideo(context.Background(), "v1")
	if err != nil {
		t.Fatalf("GetVideo error: %v", err)
	}
	if v.Duration != nil || v.Transcript != nil || v.SocialData != nil {
		t.Errorf("expected nil optional fields, got %+v", v)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	sm, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM videos`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := sm.GetVideo(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListProcessedFrames(t *testing.T) {
	sm, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "job_id", "user_id", "video_id", "image_url", "public_id", "score", "created_at"}).
		AddRow("f1", "j1", "u1", "v1", "https://img/1.jpg", "p1", 900.0, now)
	mock.ExpectQuery(`FROM processed_frames`).WithArgs("v1").WillReturnRows(rows)

	frames, err := sm.ListProcessedFrames(context.Background(), "v1")
	if err != nil {
		t.Fatalf("ListProcessedFrames error: %v", err)
	}
	if len(frames) != 1 || frames[0].Score != 900 {
		t.Errorf("unexpected frames: %+v", frames)
	}
}
