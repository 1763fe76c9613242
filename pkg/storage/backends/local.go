// Package backends provides the storage.Backend implementations and
// registers them with the storage registry.
package backends

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/CodecFlow/codecflow/pkg/storage"
)

func init() {
	storage.RegisterBackend("local", func(name string, config *storage.BackendConfig) (storage.Backend, error) {
		return NewLocalBackend(name, config)
	})
}

// LocalBackend stores objects on the local filesystem under a base
// directory. All paths are canonicalized and must resolve inside the
// base directory.
type LocalBackend struct {
	name     string
	basePath string
}

// NewLocalBackend creates a local filesystem backend rooted at the
// configured base path, creating the directory if needed.
func NewLocalBackend(name string, config *storage.BackendConfig) (*LocalBackend, error) {
	if config.BasePath == "" {
		return nil, storage.NewConfigError("local", "local backend requires base_path")
	}

	basePath, err := filepath.Abs(config.BasePath)
	if err != nil {
		return nil, storage.NewConfigError("local", "invalid base_path: "+config.BasePath)
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, storage.NewStorageError(storage.ErrCodeInvalidConfig,
			"failed to create base directory", "local", err)
	}

	return &LocalBackend{name: name, basePath: basePath}, nil
}

func (b *LocalBackend) Name() string { return b.name }
func (b *LocalBackend) Type() string { return "local" }

// resolve canonicalizes path under the base directory and rejects
// anything that escapes it.
func (b *LocalBackend) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", storage.NewSecurityError("local", path)
	}

	full := filepath.Join(b.basePath, path)

	rel, err := filepath.Rel(b.basePath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", storage.NewSecurityError("local", path)
	}

	return full, nil
}

func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}

	_, statErr := os.Stat(full)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, storage.NewStorageError(storage.ErrCodeInvalidRequest, "stat failed", "local", statErr)
}

func (b *LocalBackend) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}

	f, openErr := os.Open(full)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, storage.NewNotFoundError("local", path)
		}
		return nil, storage.NewStorageError(storage.ErrCodeInvalidRequest, "open failed", "local", openErr)
	}

	return f, nil
}

func (b *LocalBackend) WriteStream(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := b.resolve(path)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, storage.NewStorageError(storage.ErrCodeInvalidRequest, "mkdir failed", "local", err)
	}

	f, createErr := os.Create(full)
	if createErr != nil {
		return 0, storage.NewStorageError(storage.ErrCodeInvalidRequest, "create failed", "local", createErr)
	}

	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(full)
		return written, storage.NewStorageError(storage.ErrCodeInvalidRequest, "write failed", "local", copyErr)
	}
	if closeErr != nil {
		os.Remove(full)
		return written, storage.NewStorageError(storage.ErrCodeInvalidRequest, "close failed", "local", closeErr)
	}

	return written, nil
}

func (b *LocalBackend) Delete(ctx context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.NewStorageError(storage.ErrCodeInvalidRequest, "delete failed", "local", err)
	}
	return true, nil
}

func (b *LocalBackend) List(ctx context.Context, path string, recursive bool) ([]string, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(full)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return []string{}, nil
		}
		return nil, storage.NewStorageError(storage.ErrCodeInvalidRequest, "stat failed", "local", statErr)
	}
	if !info.IsDir() {
		return []string{}, nil
	}

	var names []string
	if recursive {
		walkErr := filepath.Walk(full, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(full, p)
			if relErr != nil {
				return relErr
			}
			names = append(names, filepath.ToSlash(rel))
			return nil
		})
		if walkErr != nil {
			return nil, storage.NewStorageError(storage.ErrCodeInvalidRequest, "list failed", "local", walkErr)
		}
	} else {
		entries, readErr := os.ReadDir(full)
		if readErr != nil {
			return nil, storage.NewStorageError(storage.ErrCodeInvalidRequest, "list failed", "local", readErr)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

func (b *LocalBackend) EnsureDir(ctx context.Context, path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(full, 0755); err != nil {
		return storage.NewStorageError(storage.ErrCodeInvalidRequest, "mkdir failed", "local", err)
	}
	return nil
}

func (b *LocalBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(full)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, storage.NewStorageError(storage.ErrCodeInvalidRequest, "stat failed", "local", statErr)
	}

	return &storage.FileInfo{
		Path:     path,
		Size:     info.Size(),
		Modified: info.ModTime(),
		IsDir:    info.IsDir(),
	}, nil
}

func (b *LocalBackend) Status(ctx context.Context) (*storage.BackendStatus, error) {
	status := &storage.BackendStatus{
		Name:      b.name,
		Type:      "local",
		Available: true,
		Details: map[string]interface{}{
			"base_path": b.basePath,
		},
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(b.basePath, &fs); err == nil {
		total := fs.Blocks * uint64(fs.Bsize)
		free := fs.Bavail * uint64(fs.Bsize)
		status.Details["total_bytes"] = total
		status.Details["free_bytes"] = free
		status.Details["used_bytes"] = total - free
	}

	return status, nil
}
