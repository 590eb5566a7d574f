package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Prefix    string
}

// objectStore is the subset of *minio.Client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ReferenceArchive stores captured reference postures as JSON objects.
type ReferenceArchive struct {
	client objectStore
	bucket string
	prefix string
}

// Document is the archived object body.
type Document struct {
	SessionID  string       `json:"session_id"`
	CapturedAt time.Time    `json:"captured_at"`
	Landmarks  models.Frame `json:"landmarks"`
}

// NewReferenceArchive connects to the object store and creates the bucket if
// it does not exist yet.
func NewReferenceArchive(ctx context.Context, cfg Config) (*ReferenceArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	a := newReferenceArchive(client, cfg)
	if err := a.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return a, nil
}

func newReferenceArchive(client objectStore, cfg Config) *ReferenceArchive {
	return &ReferenceArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

func (a *ReferenceArchive) ensureBucket(ctx context.Context, region string) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectName is <prefix>/<session>/<unix nanos>.json.
func (a *ReferenceArchive) ObjectName(sessionID string, at time.Time) string {
	return path.Join(a.prefix, sessionID, fmt.Sprintf("%d.json", at.UTC().UnixNano()))
}

func (a *ReferenceArchive) Store(ctx context.Context, sessionID string, reference models.Frame, at time.Time) error {
	body, err := json.Marshal(Document{
		SessionID:  sessionID,
		CapturedAt: at.UTC(),
		Landmarks:  reference,
	})
	if err != nil {
		return fmt.Errorf("encoding reference: %w", err)
	}

	name := a.ObjectName(sessionID, at)
	_, err = a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}
