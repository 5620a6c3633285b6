package lightning

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3ObjectStore implements ObjectStore using S3 or S3-compatible storage.
type S3ObjectStore struct {
	client  *s3.Client
	config  S3Config
	retryer *Retryer
}

// NewS3ObjectStore creates a new S3 object store.
func NewS3ObjectStore(cfg S3Config) (*S3ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.Key != "" && cfg.Secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3ObjectStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			Jitter:      0.1,
			RetryIf:     IsRetryable,
		}),
	}, nil
}

// Upload puts the file under a fresh key and returns its public URL.
func (s *S3ObjectStore) Upload(ctx context.Context, localPath string) (string, error) {
	key := s.objectKey(localPath)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	location, result := RetryValue(ctx, s.retryer, func() (string, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return "", err
		}
		defer func() { _ = f.Close() }()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return "", fmt.Errorf("S3 put object failed: %w", err)
		}
		return s.PublicURL(key), nil
	})
	if result.LastErr != nil {
		return "", result.LastErr
	}
	return location, nil
}

func (s *S3ObjectStore) objectKey(localPath string) string {
	return s.config.Prefix + "thumbnails/" + uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
}

// PublicURL returns the URL an uploaded key is served from.
func (s *S3ObjectStore) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.config.PublicURL != "":
		return strings.TrimRight(s.config.PublicURL, "/") + "/" + escaped
	case s.config.Endpoint != "":
		return strings.TrimRight(s.config.Endpoint, "/") + "/" + path.Join(s.config.Bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, s.config.Region, escaped)
	}
}
