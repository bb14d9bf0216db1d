/**
 * @description
 * Screenshot naming and persistence. Files are written below
 * <dir>/prime-gaming and, when a bucket is configured, copied to S3 or any
 * S3-compatible store such as Cloudflare R2. Failures are logged and never
 * interrupt a claim pass.
 */
package screenshots

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

const sourceDir = "prime-gaming"

// Uploader is the subset of the S3 client used for uploads.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the bucket screenshots are copied to.
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store names screenshot files and persists them.
type Store struct {
	dir      string
	bucket   string
	uploader Uploader
	logger   *slog.Logger
}

func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// WithUploader copies every persisted screenshot to bucket.
func (s *Store) WithUploader(bucket string, uploader Uploader) *Store {
	s.bucket = bucket
	s.uploader = uploader
	return s
}

// NewS3Client builds a client for cfg. A custom endpoint switches to path-style
// addressing as required by most S3-compatible stores.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Path returns <dir>/prime-gaming/<parts...>.png. Leading parts are directories;
// the last part is turned into a file name. Missing directories are created.
func (s *Store) Path(parts ...string) string {
	name := "screenshot"
	if len(parts) > 0 {
		name = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}
	if name = slug.Make(name); name == "" {
		name = "screenshot"
	}

	elems := append([]string{s.dir, sourceDir}, parts...)
	dir := filepath.Join(elems...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("failed to create screenshot directory", "dir", dir, "error", err)
	}
	return filepath.Join(dir, name+".png")
}

// Persist uploads the screenshot at path when a bucket is configured.
func (s *Store) Persist(ctx context.Context, path string) {
	if s.uploader == nil {
		return
	}
	key, err := s.objectKey(path)
	if err != nil {
		s.logger.Warn("screenshot outside of screenshot dir", "path", path, "error", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("failed to open screenshot", "path", path, "error", err)
		return
	}
	defer f.Close()

	_, err = s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		s.logger.Warn("failed to upload screenshot", "bucket", s.bucket, "key", key, "error", err)
		return
	}
	s.logger.Debug("uploaded screenshot", "bucket", s.bucket, "key", key)
}

func (s *Store) objectKey(path string) (string, error) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not below %s", path, s.dir)
	}
	return filepath.ToSlash(rel), nil
}
