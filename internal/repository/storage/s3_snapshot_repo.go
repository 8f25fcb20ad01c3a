package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	cfg "github.com/dafibh/layouts/layouts-backend/internal/config"
	"github.com/dafibh/layouts/layouts-backend/internal/domain"
)

// snapshotFormatVersion is written into every snapshot document
const snapshotFormatVersion = 1

// s3API is the subset of the S3 client used for snapshots
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// snapshotDocument is the stored JSON shape of a snapshot
type snapshotDocument struct {
	Version    int                   `json:"version"`
	SavedAt    time.Time             `json:"savedAt"`
	Namespaces domain.LayoutSnapshot `json:"namespaces"`
}

// S3SnapshotRepository implements domain.SnapshotRepository using AWS S3.
// The whole store is kept as one JSON object under a fixed key.
type S3SnapshotRepository struct {
	client s3API
	bucket string
	key    string
}

var _ domain.SnapshotRepository = (*S3SnapshotRepository)(nil)

// NewS3SnapshotRepository creates a new S3 snapshot repository
func NewS3SnapshotRepository(ctx context.Context, snapshotCfg cfg.SnapshotConfig) (*S3SnapshotRepository, error) {
	s3cfg := snapshotCfg.S3

	// Build AWS config options
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(s3cfg.Region),
	}

	// Add credentials if provided
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s3cfg.AccessKeyID,
				s3cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Optional endpoint override for MinIO/LocalStack
	var client *s3.Client
	if s3cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	repo := newS3SnapshotRepository(client, s3cfg.Bucket, snapshotCfg.Key)
	if err := repo.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func newS3SnapshotRepository(client s3API, bucket, key string) *S3SnapshotRepository {
	return &S3SnapshotRepository{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

// ensureBucket creates the bucket if it doesn't exist (private, no bucket policy)
func (r *S3SnapshotRepository) ensureBucket(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket (may be permission denied): %w", err)
	}

	_, err = r.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(r.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. A missing object yields an empty snapshot.
func (r *S3SnapshotRepository) Load(ctx context.Context) (domain.LayoutSnapshot, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return domain.LayoutSnapshot{}, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeSnapshot(body)
}

// Save writes the snapshot, replacing the previous one
func (r *S3SnapshotRepository) Save(ctx context.Context, snapshot domain.LayoutSnapshot) error {
	body, err := encodeSnapshot(snapshot, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}

func encodeSnapshot(snapshot domain.LayoutSnapshot, savedAt time.Time) ([]byte, error) {
	if snapshot == nil {
		snapshot = domain.LayoutSnapshot{}
	}
	body, err := json.Marshal(snapshotDocument{
		Version:    snapshotFormatVersion,
		SavedAt:    savedAt,
		Namespaces: snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return body, nil
}

func decodeSnapshot(body []byte) (domain.LayoutSnapshot, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if doc.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	if doc.Namespaces == nil {
		return domain.LayoutSnapshot{}, nil
	}
	return doc.Namespaces, nil
}
