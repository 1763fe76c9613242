package backends

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/CodecFlow/codecflow/pkg/storage"
)

func init() {
	storage.RegisterBackend("azure", func(name string, config *storage.BackendConfig) (storage.Backend, error) {
		return NewAzureBackend(name, config)
	})
}

// AzureBackend stores objects as block blobs in an Azure Blob Storage
// container.
type AzureBackend struct {
	name      string
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureBackend creates an Azure Blob backend. Authentication uses a
// connection string when present, otherwise the account name plus
// shared key.
func NewAzureBackend(name string, config *storage.BackendConfig) (*AzureBackend, error) {
	if config.Container == "" {
		return nil, storage.NewConfigError("azure", "azure backend requires container")
	}

	var client *azblob.Client
	var err error

	switch {
	case config.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(config.ConnectionString, nil)
	case config.AccountName != "" && config.SecretKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(config.AccountName, config.SecretKey)
		if err == nil {
			serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", config.AccountName)
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		}
	default:
		return nil, storage.NewConfigError("azure",
			"azure backend requires connection_string or account_name plus secret_key")
	}
	if err != nil {
		return nil, storage.NewConnectionError("azure", err)
	}

	return &AzureBackend{
		name:      name,
		client:    client,
		container: config.Container,
		prefix:    strings.Trim(config.Prefix, "/"),
	}, nil
}

func (b *AzureBackend) Name() string { return b.name }
func (b *AzureBackend) Type() string { return "azure" }

func (b *AzureBackend) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return path
	}
	if path == "" {
		return b.prefix
	}
	return b.prefix + "/" + path
}

func (b *AzureBackend) relative(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
}

func (b *AzureBackend) Exists(ctx context.Context, path string) (bool, error) {
	blob := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(b.key(path))
	_, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, storage.NewConnectionError("azure", err)
	}
	return true, nil
}

func (b *AzureBackend) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.key(path), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, storage.NewNotFoundError("azure", path)
		}
		return nil, storage.NewConnectionError("azure", err)
	}
	return resp.Body, nil
}

func (b *AzureBackend) WriteStream(ctx context.Context, path string, r io.Reader) (int64, error) {
	counting := &countingReader{r: r}
	_, err := b.client.UploadStream(ctx, b.container, b.key(path), counting, nil)
	if err != nil {
		return counting.n, storage.NewConnectionError("azure", err)
	}
	return counting.n, nil
}

func (b *AzureBackend) Delete(ctx context.Context, path string) (bool, error) {
	_, err := b.client.DeleteBlob(ctx, b.container, b.key(path), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, storage.NewConnectionError("azure", err)
	}
	return true, nil
}

func (b *AzureBackend) List(ctx context.Context, path string, recursive bool) ([]string, error) {
	prefix := b.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string

	if recursive {
		pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
			Prefix: &prefix,
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, storage.NewConnectionError("azure", err)
			}
			for _, item := range page.Segment.BlobItems {
				if item.Name != nil {
					names = append(names, b.relative(*item.Name))
				}
			}
		}
	} else {
		containerClient := b.client.ServiceClient().NewContainerClient(b.container)
		pager := containerClient.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix: &prefix,
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, storage.NewConnectionError("azure", err)
			}
			for _, item := range page.Segment.BlobItems {
				if item.Name != nil {
					names = append(names, b.relative(*item.Name))
				}
			}
			for _, dir := range page.Segment.BlobPrefixes {
				if dir.Name != nil {
					names = append(names, b.relative(*dir.Name))
				}
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

// EnsureDir is a no-op: blob storage has no directories.
func (b *AzureBackend) EnsureDir(ctx context.Context, path string) error {
	return nil
}

func (b *AzureBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	blob := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(b.key(path))
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, nil
		}
		return nil, storage.NewConnectionError("azure", err)
	}

	info := &storage.FileInfo{Path: path}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.Modified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	return info, nil
}

func (b *AzureBackend) Status(ctx context.Context) (*storage.BackendStatus, error) {
	available := true
	container := b.client.ServiceClient().NewContainerClient(b.container)
	if _, err := container.GetProperties(ctx, nil); err != nil {
		available = false
	}

	return &storage.BackendStatus{
		Name:      b.name,
		Type:      "azure",
		Available: available,
		Details: map[string]interface{}{
			"container": b.container,
			"prefix":    b.prefix,
		},
	}, nil
}

// countingReader counts bytes consumed from the wrapped reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
