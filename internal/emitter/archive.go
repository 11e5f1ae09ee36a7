package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yairfalse/surface/internal/config"
	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

// ObjectStore is the subset of *minio.Client the archive needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient connects to an S3-compatible endpoint.
func NewMinioClient(cfg config.ArchiveConfig) (*minio.Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return mc, nil
}

// ArchiveEmitter writes every scan report as one JSON object to a bucket.
// Objects are named <prefix><scan_id>.json.
type ArchiveEmitter struct {
	store  ObjectStore
	bucket string
	prefix string
	logger *telemetry.Logger
}

// NewArchiveEmitter creates an archive emitter.
func NewArchiveEmitter(store ObjectStore, bucket, prefix string, logger *telemetry.Logger) *ArchiveEmitter {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &ArchiveEmitter{store: store, bucket: bucket, prefix: prefix, logger: logger}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *ArchiveEmitter) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info().Str("bucket", a.bucket).Msg("created archive bucket")
	return nil
}

// ObjectName returns the object key for a scan.
func (a *ArchiveEmitter) ObjectName(scanID string) string {
	return path.Join(a.prefix, scanID+".json")
}

// Emit uploads the report.
func (a *ArchiveEmitter) Emit(ctx context.Context, report types.ScanReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode scan report: %w", err)
	}

	name := a.ObjectName(report.Result.ScanID)
	info, err := a.store.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"scan-id":   report.Result.ScanID,
			"persisted": fmt.Sprint(report.Persisted),
		},
	})
	if err != nil {
		return fmt.Errorf("archive scan %s: %w", report.Result.ScanID, err)
	}

	a.logger.WithContext(ctx).Debug().
		Str("bucket", info.Bucket).
		Str("object", info.Key).
		Int64("size", info.Size).
		Msg("scan report archived")
	return nil
}

// Close is a no-op; the client holds no open connections.
func (a *ArchiveEmitter) Close() error {
	return nil
}
