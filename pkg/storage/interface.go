// Package storage provides a uniform streaming interface over pluggable
// media storage backends (local filesystem, S3-compatible object stores,
// Azure Blob, Google Cloud Storage).
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultChunkSize is the read chunk hint handed to backends that stream
// in discrete chunks.
const DefaultChunkSize = 8192

// Backend is the interface implemented by all storage backends.
//
// Read streams are consumer-driven: the caller owns the returned
// ReadCloser and must close it. Write consumes the reader to EOF and
// reports the number of bytes written.
type Backend interface {
	// Exists reports whether the given path exists on the backend.
	Exists(ctx context.Context, path string) (bool, error)

	// ReadStream opens the object at path for reading.
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteStream writes the contents of r to path and returns the
	// number of bytes written.
	WriteStream(ctx context.Context, path string, r io.Reader) (int64, error)

	// Delete removes the object at path. Deleting a missing path is not
	// an error; the bool reports whether anything was removed.
	Delete(ctx context.Context, path string) (bool, error)

	// List returns object names under path, relative to any configured
	// prefix. When recursive is false, immediate children only, with
	// directory entries suffixed by "/".
	List(ctx context.Context, path string, recursive bool) ([]string, error)

	// EnsureDir guarantees that path exists as a directory. Object
	// stores treat this as a no-op.
	EnsureDir(ctx context.Context, path string) error

	// Stat returns metadata for the object at path, or nil if it does
	// not exist.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Status reports backend identity and availability.
	Status(ctx context.Context) (*BackendStatus, error)

	// Name returns the registered name of this backend instance.
	Name() string

	// Type returns the backend type identifier (local, s3, azure, gcs).
	Type() string
}

// FileInfo describes a stored object.
type FileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	IsDir       bool      `json:"is_dir"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

// BackendStatus reports a backend's identity and health.
type BackendStatus struct {
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Available bool                   `json:"available"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error codes carried by StorageError.
const (
	ErrCodeNotFound          = "NOT_FOUND"          // Path does not exist
	ErrCodeSecurityViolation = "SECURITY_VIOLATION" // Path escapes the sandbox
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"  // Network/connection issues
	ErrCodeTimeout           = "TIMEOUT"            // Operation timed out
	ErrCodeBackendOffline    = "BACKEND_OFFLINE"    // Backend is not available
	ErrCodeInvalidConfig     = "INVALID_CONFIG"     // Backend misconfiguration
	ErrCodeInvalidRequest    = "INVALID_REQUEST"    // Malformed path or URI
)

// StorageError is the standardized error type returned by backends.
type StorageError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	BackendType string `json:"backend_type"`
	Path        string `json:"path,omitempty"`
	Cause       error  `json:"-"`
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage %s [%s]: %s: %v", e.BackendType, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage %s [%s]: %s", e.BackendType, e.Code, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError with the given code.
func NewStorageError(code, message, backendType string, cause error) *StorageError {
	return &StorageError{
		Code:        code,
		Message:     message,
		BackendType: backendType,
		Cause:       cause,
	}
}

// NewNotFoundError creates a not-found error for the given path.
func NewNotFoundError(backendType, path string) *StorageError {
	return &StorageError{
		Code:        ErrCodeNotFound,
		Message:     fmt.Sprintf("path not found: %s", path),
		BackendType: backendType,
		Path:        path,
	}
}

// NewSecurityError creates an error for a path escaping the sandbox.
func NewSecurityError(backendType, path string) *StorageError {
	return &StorageError{
		Code:        ErrCodeSecurityViolation,
		Message:     fmt.Sprintf("path escapes backend base directory: %s", path),
		BackendType: backendType,
		Path:        path,
	}
}

// NewConnectionError creates a connection failure error.
func NewConnectionError(backendType string, cause error) *StorageError {
	return &StorageError{
		Code:        ErrCodeConnectionFailed,
		Message:     "connection failed",
		BackendType: backendType,
		Cause:       cause,
	}
}

// NewConfigError creates a misconfiguration error.
func NewConfigError(backendType, message string) *StorageError {
	return &StorageError{
		Code:        ErrCodeInvalidConfig,
		Message:     message,
		BackendType: backendType,
	}
}

// IsNotFound reports whether err is a StorageError with the not-found code.
func IsNotFound(err error) bool {
	se, ok := err.(*StorageError)
	return ok && se.Code == ErrCodeNotFound
}

// IsSecurityViolation reports whether err is a sandbox escape.
func IsSecurityViolation(err error) bool {
	se, ok := err.(*StorageError)
	return ok && se.Code == ErrCodeSecurityViolation
}
