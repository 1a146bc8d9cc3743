package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

// S3API is the subset of *s3.Client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads frames to an S3 bucket. Objects are addressed publicly
// through baseURL (a CDN or the bucket's website endpoint).
type S3Store struct {
	client  S3API
	bucket  string
	baseURL string
}

// NewS3Store loads AWS credentials from the environment
func NewS3Store(ctx context.Context, bucket, region, baseURL string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("S3_BUCKET is not set")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
	}

	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, baseURL), nil
}

// NewS3StoreWithClient creates a store around an existing client
func NewS3StoreWithClient(client S3API, bucket, baseURL string) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload puts the file under folder with a fresh object name.
func (s *S3Store) Upload(ctx context.Context, localPath, folder string) (*models.UploadResult, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, &models.UploadError{Path: localPath, Err: err}
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType := "application/octet-stream"
	switch ext {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	}

	publicID := path.Join(folder, uuid.New().String())
	key := publicID + ext

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, &models.UploadError{Path: localPath, Err: err}
	}

	return &models.UploadResult{
		URL:      s.baseURL + "/" + key,
		PublicID: publicID,
	}, nil
}
