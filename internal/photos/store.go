// Package photos stores customer-supplied photos in S3 and tracks them
// in Postgres. Object keys are derived from ids and never persisted, so
// key layout changes never require a backfill.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var (
	// ErrNotConfigured is returned when no bucket is configured.
	ErrNotConfigured = errors.New("photos: object store not configured")
	// ErrNotImage is returned for uploads without an image/* content type.
	ErrNotImage = errors.New("photos: content type must be image/*")
	// ErrTooLarge is returned for uploads over the configured size cap.
	ErrTooLarge = errors.New("photos: file exceeds size limit")
	// ErrNotFound is returned when no photo row matches the lookup.
	ErrNotFound = errors.New("photos: photo not found")
)

// Photo sources.
const (
	SourceWebUpload = "web_upload"
	SourceMMS       = "mms"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner produces time-limited GET URLs. Satisfied by
// s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

const (
	// DefaultURLTTL is the presigned GET lifetime when none is requested.
	DefaultURLTTL = 300 * time.Second
	minURLTTL     = 60 * time.Second
	maxURLTTL     = 3600 * time.Second
)

// Store uploads photo objects and signs view URLs.
type Store struct {
	bucket    string
	prefix    string
	maxBytes  int64
	s3Client  S3API
	presigner Presigner
	logger    *logging.Logger
}

// NewStore creates a photo store. With an empty bucket every operation
// returns ErrNotConfigured.
func NewStore(s3Client S3API, presigner Presigner, bucket, prefix string, maxBytes int64, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &Store{
		bucket:    bucket,
		prefix:    prefix,
		maxBytes:  maxBytes,
		s3Client:  s3Client,
		presigner: presigner,
		logger:    logger,
	}
}

// Enabled reports whether uploads are configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ObjectKey derives the S3 key for a photo. Single source of truth:
// session-scoped photos live under sessions/, job-scoped under jobs/,
// unscoped at the prefix root.
func (s *Store) ObjectKey(photoID, sessionID, jobID string) string {
	switch {
	case sessionID != "":
		return fmt.Sprintf("%ssessions/%s/%s.jpg", s.prefix, sessionID, photoID)
	case jobID != "":
		return fmt.Sprintf("%sjobs/%s/%s.jpg", s.prefix, jobID, photoID)
	default:
		return fmt.Sprintf("%s%s.jpg", s.prefix, photoID)
	}
}

// UploadInput describes one photo upload.
type UploadInput struct {
	SessionID   string
	JobID       string
	Source      string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload validates and stores the object, returning the generated photo
// id. Objects are encrypted at rest (SSE AES256).
func (s *Store) Upload(ctx context.Context, input UploadInput) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	if !strings.HasPrefix(input.ContentType, "image/") {
		return "", fmt.Errorf("%w: got %q", ErrNotImage, input.ContentType)
	}
	if input.Size > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, input.Size, s.maxBytes)
	}

	photoID := uuid.NewString()
	key := s.ObjectKey(photoID, input.SessionID, input.JobID)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 input.Body,
		ContentType:          aws.String(input.ContentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("photos: s3 put %s: %w", key, err)
	}

	s.logger.Info("photo uploaded", "photo_id", photoID, "key", key, "bytes", input.Size)
	return photoID, nil
}

// ViewURL signs a GET URL for the photo. TTL defaults to 300s and is
// clamped to [60s, 3600s].
func (s *Store) ViewURL(ctx context.Context, photoID, sessionID, jobID string, ttl time.Duration) (string, error) {
	if s == nil || s.bucket == "" || s.presigner == nil {
		return "", ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	if ttl < minURLTTL {
		ttl = minURLTTL
	}
	if ttl > maxURLTTL {
		ttl = maxURLTTL
	}

	key := s.ObjectKey(photoID, sessionID, jobID)
	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("photos: presign %s: %w", key, err)
	}
	return signed.URL, nil
}
