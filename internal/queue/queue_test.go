package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

type mockRunner struct {
	ProcessFunc func(ctx context.Context, job *models.Job) (*models.JobResult, error)

	jobs []*models.Job
}

func (m *mockRunner) Process(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	m.jobs = append(m.jobs, job)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, job)
	}
	return &models.JobResult{UploadedURL: "https://img/1.jpg", BestScore: 42}, nil
}

func newTestConsumer(t *testing.T, runner JobRunner) *RedisConsumer {
	t.Helper()
	rc, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    "redis://localhost:6379/0",
		Concurrency: 1,
		Runner:      runner,
	})
	if err != nil {
		t.Fatalf("NewRedisConsumer error: %v", err)
	}
	return rc
}

func validPayload() models.JobPayload {
	return models.JobPayload{
		VideoID:      "v1",
		VideoURL:     "https://cdn.example.com/x.mp4",
		UserID:       "u1",
		OriginalName: "x.mp4",
	}
}

func TestHandleProcessTask(t *testing.T) {
	runner := &mockRunner{}
	rc := newTestConsumer(t, runner)

	task, err := NewProcessTask(validPayload())
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.handleProcessTask(context.Background(), task); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if len(runner.jobs) != 1 {
		t.Fatalf("runner called %d times", len(runner.jobs))
	}
	job := runner.jobs[0]
	if job.ID == "" {
		t.Error("job without task metadata should still get an id")
	}
	if job.Attempt != 1 || job.VideoID != "v1" || job.SourceURL != "https://cdn.example.com/x.mp4" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestHandleProcessTaskMalformedPayload(t *testing.T) {
	runner := &mockRunner{}
	rc := newTestConsumer(t, runner)

	for name, body := range map[string][]byte{
		"not json":      []byte("{oops"),
		"missing field": []byte(`{"videoId":"v1","videoUrl":"https://x/y.mp4"}`),
		"bad scheme":    []byte(`{"videoId":"v1","videoUrl":"ftp://x/y.mp4","userId":"u","originalName":"y.mp4"}`),
	} {
		t.Run(name, func(t *testing.T) {
			err := rc.handleProcessTask(context.Background(), asynq.NewTask(TypeVideoProcess, body))
			if !errors.Is(err, asynq.SkipRetry) {
				t.Errorf("expected SkipRetry, got %v", err)
			}
		})
	}
	if len(runner.jobs) != 0 {
		t.Error("runner must not see malformed payloads")
	}
}

func TestHandleProcessTaskRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"client error", &models.FetchError{URL: "u", StatusCode: 404, Err: errors.New("nf")}, true},
		{"oversized", &models.FetchError{URL: "u", Err: errors.New("too big"), Permanent: true}, true},
		{"server error", &models.FetchError{URL: "u", StatusCode: 503, Err: errors.New("down")}, false},
		{"upload", &models.UploadError{Path: "p", Err: errors.New("x")}, false},
		{"no scorable frames", models.ErrNoScorableFrames, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{ProcessFunc: func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
				return nil, tt.err
			}}
			rc := newTestConsumer(t, runner)
			task, _ := NewProcessTask(validPayload())

			err := rc.handleProcessTask(context.Background(), task)
			if !errors.Is(err, tt.err) {
				t.Errorf("error chain lost the cause: %v", err)
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Errorf("SkipRetry = %v, want %v", got, tt.skipRetry)
			}
		})
	}
}

func TestNewProcessTask(t *testing.T) {
	task, err := NewProcessTask(validPayload())
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TypeVideoProcess {
		t.Errorf("Type = %q", task.Type())
	}
	var got models.JobPayload
	if err := json.Unmarshal(task.Payload(), &got); err != nil {
		t.Fatal(err)
	}
	if got != validPayload() {
		t.Errorf("payload = %+v", got)
	}

	if _, err := NewProcessTask(models.JobPayload{VideoID: "v1"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := map[int]time.Duration{
		-1: time.Second,
		0:  time.Second,
		1:  2 * time.Second,
		3:  8 * time.Second,
		5:  32 * time.Second,
		6:  time.Minute,
		40: time.Minute,
	}
	for n, want := range tests {
		if got := RetryDelay(n); got != want {
			t.Errorf("RetryDelay(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestTaskOptions(t *testing.T) {
	opts := TaskOptions(2, 30*time.Minute, 0)

	got := map[asynq.OptionType]interface{}{}
	for _, o := range opts {
		got[o.Type()] = o.Value()
	}
	if got[asynq.QueueOpt] != QueueName {
		t.Errorf("queue = %v", got[asynq.QueueOpt])
	}
	if got[asynq.MaxRetryOpt] != 2 {
		t.Errorf("max retry = %v", got[asynq.MaxRetryOpt])
	}
	if got[asynq.TimeoutOpt] != 30*time.Minute {
		t.Errorf("timeout = %v", got[asynq.TimeoutOpt])
	}
	if got[asynq.RetentionOpt] != DefaultRetention {
		t.Errorf("retention = %v", got[asynq.RetentionOpt])
	}

	if len(TaskOptions(0, 0, time.Hour)) != 3 {
		t.Error("zero timeout should leave the option out")
	}
}

func TestStatusFromInfo(t *testing.T) {
	payload, _ := json.Marshal(validPayload())
	result, _ := json.Marshal(models.JobResult{UploadedURL: "https://img/1.jpg", BestScore: 12.5})
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	status := statusFromInfo(&asynq.TaskInfo{
		ID:          "task-1",
		State:       asynq.TaskStateCompleted,
		MaxRetry:    2,
		Payload:     payload,
		Result:      result,
		CompletedAt: done,
	})

	if status.State != "completed" || status.ID != "task-1" || status.MaxRetry != 2 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.CompletedAt == nil || !status.CompletedAt.Equal(done) || status.LastFailedAt != nil {
		t.Errorf("timestamps = %v / %v", status.CompletedAt, status.LastFailedAt)
	}
	if status.Payload.VideoID != "v1" {
		t.Errorf("payload = %+v", status.Payload)
	}
	if status.Result == nil || status.Result.BestScore != 12.5 {
		t.Errorf("result = %+v", status.Result)
	}
}

func TestHandleProcessTaskAppliesJobTimeout(t *testing.T) {
	var deadline time.Time
	runner := &mockRunner{ProcessFunc: func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		deadline, _ = ctx.Deadline()
		return &models.JobResult{}, nil
	}}
	rc, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    "redis://localhost:6379/0",
		Concurrency: 1,
		JobTimeout:  time.Minute,
		Runner:      runner,
	})
	if err != nil {
		t.Fatal(err)
	}

	task, _ := NewProcessTask(validPayload())
	if err := rc.handleProcessTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if deadline.IsZero() || time.Until(deadline) > time.Minute {
		t.Errorf("deadline = %v, want within a minute", deadline)
	}
}
