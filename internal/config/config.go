package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds worker configuration
type Config struct {
	RedisURL    string
	DatabaseURL string

	WorkerConcurrency int
	TempDir           string
	FrameCount        int
	UploadFolder      string

	StorageBackend  string // "cloudinary" or "s3"
	CloudinaryURL   string
	S3Bucket        string
	S3PublicBaseURL string
	AWSRegion       string

	AIAPIKey           string
	AIBaseURL          string
	TranscribeModel    string
	GenerateModel      string
	TranscriptMaxChars int
	AIRatePerMinute    int

	MaxVideoSize    int64 // Bytes
	DownloadRetries int

	FFmpegTimeout time.Duration
	AITimeout     time.Duration
	JobTimeout    time.Duration
	JobMaxRetry   int

	TempSweepInterval time.Duration
	TempMaxAge        time.Duration

	AdminAddr string
	LogLevel  string
	LogPretty bool
}

type configFile struct {
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Worker struct {
		Concurrency  int    `yaml:"concurrency"`
		TempDir      string `yaml:"temp_dir"`
		FrameCount   int    `yaml:"frame_count"`
		UploadFolder string `yaml:"upload_folder"`
		JobTimeout   string `yaml:"job_timeout"`
		MaxRetry     *int   `yaml:"max_retry"`
		SweepEvery   string `yaml:"sweep_interval"`
		TempMaxAge   string `yaml:"temp_max_age"`
	} `yaml:"worker"`
	Storage struct {
		Backend         string `yaml:"backend"`
		CloudinaryURL   string `yaml:"cloudinary_url"`
		S3Bucket        string `yaml:"s3_bucket"`
		S3PublicBaseURL string `yaml:"s3_public_base_url"`
		AWSRegion       string `yaml:"aws_region"`
	} `yaml:"storage"`
	AI struct {
		BaseURL            string `yaml:"base_url"`
		TranscribeModel    string `yaml:"transcribe_model"`
		GenerateModel      string `yaml:"generate_model"`
		TranscriptMaxChars int    `yaml:"transcript_max_chars"`
		RatePerMinute      int    `yaml:"rate_per_minute"`
		Timeout            string `yaml:"timeout"`
	} `yaml:"ai"`
	Download struct {
		MaxVideoSize int64 `yaml:"max_video_size"`
		Retries      int   `yaml:"retries"`
	} `yaml:"download"`
	FFmpeg struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"ffmpeg"`
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty *bool  `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RedisURL:           "redis://localhost:6379",
		WorkerConcurrency:  2,
		TempDir:            os.TempDir(),
		FrameCount:         5,
		UploadFolder:       "pixelate/thumbnails",
		StorageBackend:     "cloudinary",
		AIBaseURL:          "https://api.groq.com/openai/v1",
		TranscribeModel:    "whisper-large-v3-turbo",
		GenerateModel:      "llama3-8b-8192",
		TranscriptMaxChars: 20000,
		MaxVideoSize:       2 * 1024 * 1024 * 1024, // 2GB
		DownloadRetries:    3,
		FFmpegTimeout:      5 * time.Minute,
		AITimeout:          2 * time.Minute,
		JobTimeout:         30 * time.Minute,
		JobMaxRetry:        2,
		TempSweepInterval:  15 * time.Minute,
		TempMaxAge:         2 * time.Hour,
		AdminAddr:          ":2112",
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, then the optional YAML file,
// then environment variables (after loading .env if present).
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("WORKER_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.RedisURL, f.Redis.URL)
	setString(&cfg.DatabaseURL, f.Database.URL)
	setInt(&cfg.WorkerConcurrency, f.Worker.Concurrency)
	setString(&cfg.TempDir, f.Worker.TempDir)
	setInt(&cfg.FrameCount, f.Worker.FrameCount)
	setString(&cfg.UploadFolder, f.Worker.UploadFolder)
	if f.Worker.MaxRetry != nil {
		cfg.JobMaxRetry = *f.Worker.MaxRetry
	}
	setString(&cfg.StorageBackend, f.Storage.Backend)
	setString(&cfg.CloudinaryURL, f.Storage.CloudinaryURL)
	setString(&cfg.S3Bucket, f.Storage.S3Bucket)
	setString(&cfg.S3PublicBaseURL, f.Storage.S3PublicBaseURL)
	setString(&cfg.AWSRegion, f.Storage.AWSRegion)
	setString(&cfg.AIBaseURL, f.AI.BaseURL)
	setString(&cfg.TranscribeModel, f.AI.TranscribeModel)
	setString(&cfg.GenerateModel, f.AI.GenerateModel)
	setInt(&cfg.TranscriptMaxChars, f.AI.TranscriptMaxChars)
	setInt(&cfg.AIRatePerMinute, f.AI.RatePerMinute)
	if f.Download.MaxVideoSize > 0 {
		cfg.MaxVideoSize = f.Download.MaxVideoSize
	}
	setInt(&cfg.DownloadRetries, f.Download.Retries)
	setString(&cfg.AdminAddr, f.Admin.Addr)
	setString(&cfg.LogLevel, f.Log.Level)
	if f.Log.Pretty != nil {
		cfg.LogPretty = *f.Log.Pretty
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{f.Worker.JobTimeout, &cfg.JobTimeout, "worker.job_timeout"},
		{f.AI.Timeout, &cfg.AITimeout, "ai.timeout"},
		{f.FFmpeg.Timeout, &cfg.FFmpegTimeout, "ffmpeg.timeout"},
		{f.Worker.SweepEvery, &cfg.TempSweepInterval, "worker.sweep_interval"},
		{f.Worker.TempMaxAge, &cfg.TempMaxAge, "worker.temp_max_age"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.TempDir = getEnv("TEMP_DIR", cfg.TempDir)
	cfg.FrameCount = getEnvInt("FRAME_COUNT", cfg.FrameCount)
	cfg.UploadFolder = getEnv("UPLOAD_FOLDER", cfg.UploadFolder)
	cfg.StorageBackend = getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.CloudinaryURL = getEnv("CLOUDINARY_URL", cfg.CloudinaryURL)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3PublicBaseURL = getEnv("S3_PUBLIC_BASE_URL", cfg.S3PublicBaseURL)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AIAPIKey = getEnv("AI_API_KEY", getEnv("GROQ_API_KEY", cfg.AIAPIKey))
	cfg.AIBaseURL = getEnv("AI_BASE_URL", cfg.AIBaseURL)
	cfg.TranscribeModel = getEnv("TRANSCRIBE_MODEL", cfg.TranscribeModel)
	cfg.GenerateModel = getEnv("GENERATE_MODEL", cfg.GenerateModel)
	cfg.TranscriptMaxChars = getEnvInt("TRANSCRIPT_MAX_CHARS", cfg.TranscriptMaxChars)
	cfg.AIRatePerMinute = getEnvInt("AI_RATE_PER_MINUTE", cfg.AIRatePerMinute)
	cfg.MaxVideoSize = getEnvInt64("MAX_VIDEO_SIZE", cfg.MaxVideoSize)
	cfg.DownloadRetries = getEnvInt("DOWNLOAD_RETRIES", cfg.DownloadRetries)
	cfg.FFmpegTimeout = getEnvDuration("FFMPEG_TIMEOUT", cfg.FFmpegTimeout)
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", cfg.AITimeout)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", cfg.JobTimeout)
	cfg.JobMaxRetry = getEnvInt("JOB_MAX_RETRY", cfg.JobMaxRetry)
	cfg.TempSweepInterval = getEnvDuration("TEMP_SWEEP_INTERVAL", cfg.TempSweepInterval)
	cfg.TempMaxAge = getEnvDuration("TEMP_MAX_AGE", cfg.TempMaxAge)
	cfg.AdminAddr = getEnv("ADMIN_ADDR", cfg.AdminAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvBool("LOG_PRETTY", cfg.LogPretty)
}

// Validate rejects settings the worker cannot run with.
func (c Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.FrameCount < 1 {
		return fmt.Errorf("frame count must be at least 1, got %d", c.FrameCount)
	}
	if c.JobMaxRetry < 0 {
		return fmt.Errorf("job max retry must not be negative, got %d", c.JobMaxRetry)
	}
	if c.TempMaxAge > 0 && c.TempMaxAge <= c.JobTimeout {
		return fmt.Errorf("temp max age (%s) must exceed job timeout (%s)", c.TempMaxAge, c.JobTimeout)
	}
	switch c.StorageBackend {
	case "cloudinary", "s3":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// getEnv gets environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets int64 environment variable with default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool gets boolean environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}
