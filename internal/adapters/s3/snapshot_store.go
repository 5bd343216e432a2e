// Package s3 stores upgrade snapshots in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// ErrSnapshotNotFound is returned when restoring a handle with no object.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// API is the subset of the S3 client the snapshot store uses.
// *s3.Client satisfies it.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates the bucket.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// NewClient builds an S3 client. Static credentials are used when an
// access key is given, otherwise the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// SnapshotStore implements ports.SnapshotStore by uploading the modules
// manifest to a bucket. Restore downloads it back over the manifest.
type SnapshotStore struct {
	api      API
	bucket   string
	prefix   string
	manifest string
}

// NewSnapshotStore creates a store for manifestPath in bucket under prefix.
func NewSnapshotStore(api API, bucket, prefix, manifestPath string) *SnapshotStore {
	return &SnapshotStore{api: api, bucket: bucket, prefix: prefix, manifest: manifestPath}
}

// Create uploads the current manifest and returns the snapshot handle.
func (s *SnapshotStore) Create(ctx context.Context, def domain.UpgradeDefinition) (string, error) {
	data, err := os.ReadFile(s.manifest)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	handle := def.ID + "-" + uuid.NewString()
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(handle)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"definition-id": def.ID},
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s in bucket %s: %w", handle, s.bucket, err)
	}
	return handle, nil
}

// Restore downloads the snapshot and writes it over the manifest atomically.
func (s *SnapshotStore) Restore(ctx context.Context, handle string) error {
	if handle == "" {
		return errors.New("empty snapshot handle")
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, handle)
		}
		return fmt.Errorf("get snapshot %s from bucket %s: %w", handle, s.bucket, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("read snapshot body: %w", err)
	}

	tmp := s.manifest + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.manifest), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.manifest)
}

func (s *SnapshotStore) key(handle string) string {
	return path.Join(s.prefix, handle+".toml")
}

// isNotFound checks typed S3 errors first, then API error codes for
// S3-compatible services that do not return the SDK types.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

var (
	_ ports.SnapshotStore = (*SnapshotStore)(nil)
	_ API                 = (*s3.Client)(nil)
)
