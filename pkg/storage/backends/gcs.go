package backends

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/CodecFlow/codecflow/pkg/storage"
)

func init() {
	storage.RegisterBackend("gcs", func(name string, config *storage.BackendConfig) (storage.Backend, error) {
		return NewGCSBackend(name, config)
	})
}

// GCSBackend stores objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	name   string
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSBackend creates a GCS backend. A credentials file may be
// configured; otherwise application-default credentials apply.
func NewGCSBackend(name string, config *storage.BackendConfig) (*GCSBackend, error) {
	if config.Bucket == "" {
		return nil, storage.NewConfigError("gcs", "gcs backend requires bucket")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := gcs.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, storage.NewConnectionError("gcs", err)
	}

	return &GCSBackend{
		name:   name,
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
	}, nil
}

func (b *GCSBackend) Name() string { return b.name }
func (b *GCSBackend) Type() string { return "gcs" }

func (b *GCSBackend) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return path
	}
	if path == "" {
		return b.prefix
	}
	return b.prefix + "/" + path
}

func (b *GCSBackend) relative(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
}

func (b *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(b.key(path)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, storage.NewConnectionError("gcs", err)
	}
	return true, nil
}

func (b *GCSBackend) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.key(path)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, storage.NewNotFoundError("gcs", path)
		}
		return nil, storage.NewConnectionError("gcs", err)
	}
	return r, nil
}

func (b *GCSBackend) WriteStream(ctx context.Context, path string, r io.Reader) (int64, error) {
	w := b.client.Bucket(b.bucket).Object(b.key(path)).NewWriter(ctx)

	written, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return written, storage.NewConnectionError("gcs", err)
	}
	if err := w.Close(); err != nil {
		return written, storage.NewConnectionError("gcs", err)
	}
	return written, nil
}

func (b *GCSBackend) Delete(ctx context.Context, path string) (bool, error) {
	err := b.client.Bucket(b.bucket).Object(b.key(path)).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, storage.NewConnectionError("gcs", err)
	}
	return true, nil
}

func (b *GCSBackend) List(ctx context.Context, path string, recursive bool) ([]string, error) {
	prefix := b.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	query := &gcs.Query{Prefix: prefix}
	if !recursive {
		query.Delimiter = "/"
	}

	var names []string
	it := b.client.Bucket(b.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storage.NewConnectionError("gcs", err)
		}
		if attrs.Prefix != "" {
			names = append(names, b.relative(attrs.Prefix))
			continue
		}
		names = append(names, b.relative(attrs.Name))
	}

	sort.Strings(names)
	return names, nil
}

// EnsureDir is a no-op: object stores have no directories.
func (b *GCSBackend) EnsureDir(ctx context.Context, path string) error {
	return nil
}

func (b *GCSBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(b.key(path)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, storage.NewConnectionError("gcs", err)
	}

	return &storage.FileInfo{
		Path:        path,
		Size:        attrs.Size,
		Modified:    attrs.Updated,
		ETag:        attrs.Etag,
		ContentType: attrs.ContentType,
	}, nil
}

func (b *GCSBackend) Status(ctx context.Context) (*storage.BackendStatus, error) {
	available := true
	if _, err := b.client.Bucket(b.bucket).Attrs(ctx); err != nil {
		available = false
	}

	return &storage.BackendStatus{
		Name:      b.name,
		Type:      "gcs",
		Available: available,
		Details: map[string]interface{}{
			"bucket": b.bucket,
			"prefix": b.prefix,
		},
	}, nil
}
