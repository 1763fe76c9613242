package backends

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/CodecFlow/codecflow/pkg/storage"
)

func init() {
	storage.RegisterBackend("s3", func(name string, config *storage.BackendConfig) (storage.Backend, error) {
		return NewS3Backend(name, config)
	})
}

// S3Backend stores objects in an S3-compatible object store (AWS S3,
// MinIO, and others speaking the S3 wire protocol).
type S3Backend struct {
	name   string
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewS3Backend creates an S3-compatible backend for the configured
// bucket. Explicit credentials take precedence over the environment.
func NewS3Backend(name string, config *storage.BackendConfig) (*S3Backend, error) {
	if config.Bucket == "" {
		return nil, storage.NewConfigError("s3", "s3 backend requires bucket")
	}

	endpoint := config.Endpoint
	secure := config.UseSSL
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
		secure = true
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	var creds *credentials.Credentials
	if config.AccessKey != "" && config.SecretKey != "" {
		creds = credentials.NewStaticV4(config.AccessKey, config.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, storage.NewConnectionError("s3", err)
	}

	return &S3Backend{
		name:   name,
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
		region: config.Region,
	}, nil
}

func (b *S3Backend) Name() string { return b.name }
func (b *S3Backend) Type() string { return "s3" }

func (b *S3Backend) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return path
	}
	if path == "" {
		return b.prefix
	}
	return b.prefix + "/" + path
}

func (b *S3Backend) relative(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
}

func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.key(path), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, storage.NewConnectionError("s3", err)
	}
	return true, nil
}

func (b *S3Backend) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.NewConnectionError("s3", err)
	}

	// GetObject is lazy; surface not-found before handing back the reader.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return nil, storage.NewNotFoundError("s3", path)
		}
		return nil, storage.NewConnectionError("s3", err)
	}

	return obj, nil
}

func (b *S3Backend) WriteStream(ctx context.Context, path string, r io.Reader) (int64, error) {
	info, err := b.client.PutObject(ctx, b.bucket, b.key(path), r, -1, minio.PutObjectOptions{})
	if err != nil {
		return 0, storage.NewConnectionError("s3", err)
	}
	return info.Size, nil
}

func (b *S3Backend) Delete(ctx context.Context, path string) (bool, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if err := b.client.RemoveObject(ctx, b.bucket, b.key(path), minio.RemoveObjectOptions{}); err != nil {
		return false, storage.NewConnectionError("s3", err)
	}
	return true, nil
}

func (b *S3Backend) List(ctx context.Context, path string, recursive bool) ([]string, error) {
	prefix := b.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, storage.NewConnectionError("s3", obj.Err)
		}
		names = append(names, b.relative(obj.Key))
	}

	sort.Strings(names)
	return names, nil
}

// EnsureDir is a no-op: object stores have no directories.
func (b *S3Backend) EnsureDir(ctx context.Context, path string) error {
	return nil
}

func (b *S3Backend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.key(path), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, storage.NewConnectionError("s3", err)
	}

	return &storage.FileInfo{
		Path:        path,
		Size:        info.Size,
		Modified:    info.LastModified,
		ETag:        strings.Trim(info.ETag, `"`),
		ContentType: info.ContentType,
	}, nil
}

func (b *S3Backend) Status(ctx context.Context) (*storage.BackendStatus, error) {
	available := true
	if _, err := b.client.BucketExists(ctx, b.bucket); err != nil {
		available = false
	}

	return &storage.BackendStatus{
		Name:      b.name,
		Type:      "s3",
		Available: available,
		Details: map[string]interface{}{
			"bucket": b.bucket,
			"prefix": b.prefix,
			"region": b.region,
		},
	}, nil
}
