package backends

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodecFlow/codecflow/pkg/storage"
)

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend("local", &storage.BackendConfig{
		Type:     "local",
		Enabled:  true,
		BasePath: t.TempDir(),
	})
	require.NoError(t, err)
	return backend
}

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	payload := []byte("not actually an mp4")
	written, err := backend.WriteStream(ctx, "in/a.mp4", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), written)

	exists, err := backend.Exists(ctx, "in/a.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := backend.ReadStream(ctx, "in/a.mp4")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLocalBackendTraversalRejected(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	hostile := []string{
		"../etc/passwd",
		"../../etc/passwd",
		"a/../../etc/passwd",
		"../../..",
		"/etc/passwd",
	}

	for _, path := range hostile {
		_, err := backend.ReadStream(ctx, path)
		require.Error(t, err, "read %q must be rejected", path)
		assert.True(t, storage.IsSecurityViolation(err), "read %q: got %v", path, err)

		_, err = backend.WriteStream(ctx, path, bytes.NewReader([]byte("x")))
		require.Error(t, err, "write %q must be rejected", path)
		assert.True(t, storage.IsSecurityViolation(err), "write %q: got %v", path, err)
	}

	// Traversal that stays inside the root is still fine.
	_, err := backend.WriteStream(ctx, "a/../b.mp4", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	exists, err := backend.Exists(ctx, "b.mp4")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalBackendReadMissing(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	_, err := backend.ReadStream(ctx, "does/not/exist.mp4")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestLocalBackendDelete(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	_, err := backend.WriteStream(ctx, "out.mp4", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	removed, err := backend.Delete(ctx, "out.mp4")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = backend.Delete(ctx, "out.mp4")
	require.NoError(t, err)
	assert.False(t, removed, "deleting a missing path is not an error")
}

func TestLocalBackendList(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	for _, path := range []string{"a.mp4", "sub/b.mp4", "sub/deep/c.mp4"} {
		_, err := backend.WriteStream(ctx, path, bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}

	flat, err := backend.List(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "sub/"}, flat)

	recursive, err := backend.List(ctx, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "sub/b.mp4", "sub/deep/c.mp4"}, recursive)

	empty, err := backend.List(ctx, "no-such-dir", true)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalBackendStat(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)

	info, err := backend.Stat(ctx, "missing.mp4")
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = backend.WriteStream(ctx, "a.mp4", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	info, err = backend.Stat(ctx, "a.mp4")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDir)
}

func TestRegistryResolve(t *testing.T) {
	ctx := context.Background()

	cfg := storage.DefaultConfig(t.TempDir())
	registry, err := storage.NewRegistry(cfg)
	require.NoError(t, err)

	backend, rest, err := registry.Resolve("local:///in/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Name())
	assert.Equal(t, "in/a.mp4", rest)

	_, _, err = registry.Resolve("s3://bucket/key")
	assert.Error(t, err, "unregistered backend must fail resolution")

	_, err = backend.WriteStream(ctx, "in/a.mp4", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	statuses := registry.Status(ctx)
	require.Contains(t, statuses, "local")
	assert.True(t, statuses["local"].Available)
}
