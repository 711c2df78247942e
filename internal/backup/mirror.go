package backup

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror keeps an off-site copy of every archive.
type Mirror interface {
	Upload(ctx context.Context, name, path string) error
	Download(ctx context.Context, name, path string) error
	List(ctx context.Context) ([]string, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioMirror stores archives as objects in a single bucket.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

// NewMinioMirror connects and creates the bucket when it does not exist.
func NewMinioMirror(ctx context.Context, cfg MinioConfig) (*MinioMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioMirror{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioMirror) Upload(ctx context.Context, name, path string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, name, path, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

func (m *MinioMirror) Download(ctx context.Context, name, path string) error {
	err := m.client.FGetObject(ctx, m.bucket, name, path, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrNotFound
		}
		return fmt.Errorf("download %s: %w", name, err)
	}
	return nil
}

func (m *MinioMirror) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: archivePrefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", m.bucket, obj.Err)
		}
		if validName(obj.Key) && !strings.Contains(obj.Key, "/") {
			names = append(names, obj.Key)
		}
	}
	return names, nil
}
