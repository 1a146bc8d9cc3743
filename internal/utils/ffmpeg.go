package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegHelper wraps the ffmpeg and ffprobe binaries
type FFmpegHelper struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

// NewFFmpegHelper locates ffmpeg and ffprobe on PATH. A zero timeout leaves
// commands bounded only by the caller's context.
func NewFFmpegHelper(timeout time.Duration) (*FFmpegHelper, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &FFmpegHelper{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
	}, nil
}

// ProbeDuration returns the container duration in seconds
func (h *FFmpegHelper) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)

	output, err := h.run(cmd)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Duration  string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}

	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && d > 0 {
		return d, nil
	}
	// Some containers only carry a per-stream duration
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
			return d, nil
		}
	}

	return 0, fmt.Errorf("no duration reported for %s", videoPath)
}

// ExtractFrame writes the frame at timestamp (seconds) to outputPath as JPEG
func (h *FFmpegHelper) ExtractFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpegPath,
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)

	if _, err := h.run(cmd); err != nil {
		return fmt.Errorf("frame extraction at %.3fs failed: %w", timestamp, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("frame at %.3fs not written: %w", timestamp, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("frame at %.3fs is empty", timestamp)
	}

	return nil
}

func (h *FFmpegHelper) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// run executes cmd and folds the tail of stderr into the error.
func (h *FFmpegHelper) run(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return output, nil
}
