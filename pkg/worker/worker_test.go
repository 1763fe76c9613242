package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLifecycle(t *testing.T) {
	mgr, err := NewTempManager(t.TempDir(), nil)
	require.NoError(t, err)

	ws, err := mgr.Acquire(uuid.New())
	require.NoError(t, err)

	assert.DirExists(t, ws.InputDir)
	assert.DirExists(t, ws.OutputDir)

	require.NoError(t, os.WriteFile(filepath.Join(ws.OutputDir, "out.mp4"), []byte("x"), 0o644))

	ws.Release()
	assert.NoDirExists(t, ws.Root)

	// Idempotent.
	ws.Release()
}

func TestSweepOrphans(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewTempManager(root, nil)
	require.NoError(t, err)

	// Leftovers from a prior crash plus an unrelated directory.
	orphan := filepath.Join(root, jobDirPrefix+uuid.New().String())
	require.NoError(t, os.MkdirAll(filepath.Join(orphan, "input"), 0o755))
	keep := filepath.Join(root, "unrelated")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	assert.Equal(t, 1, mgr.SweepOrphans())
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, keep)

	assert.Equal(t, 0, mgr.SweepOrphans())
}

func TestParseEncoderList(t *testing.T) {
	listing := ` V..... libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V..... h264_nvenc           NVIDIA NVENC H.264 encoder
 V..... h264_vaapi           H.264/AVC (VAAPI)
 A..... aac                  AAC (Advanced Audio Coding)`

	caps := parseEncoderList(listing)
	assert.True(t, caps.NVENC)
	assert.True(t, caps.VAAPI)
	assert.False(t, caps.QSV)
	assert.False(t, caps.VideoToolbox)
	assert.False(t, caps.AMF)

	assert.Equal(t, parseEncoderList(""), parseEncoderList("nothing relevant"))
}

func TestThrottleGate(t *testing.T) {
	gate := newThrottleGate()
	now := time.Now()

	// First sample always passes.
	assert.True(t, gate.allow(20.0, now))

	// Tiny advance within the interval is suppressed.
	assert.False(t, gate.allow(20.2, now.Add(100*time.Millisecond)))

	// A delta of at least 0.5 passes regardless of time.
	assert.True(t, gate.allow(20.7, now.Add(200*time.Millisecond)))

	// After the interval any change passes.
	assert.True(t, gate.allow(20.8, now.Add(200*time.Millisecond+progressMinInterval)))
}

func TestQualityMetricsScan(t *testing.T) {
	m := &qualityMetrics{}
	m.scan("[Parsed_libvmaf_0 @ 0x55] VMAF score: 93.421")
	m.scan("[Parsed_psnr_0 @ 0x55] PSNR y:48.2 u:50.1 v:49.3 average:48.612 min:40.0 max:60.0")
	m.scan("[Parsed_ssim_0 @ 0x55] SSIM Y:0.98 U:0.97 V:0.97 All:0.9782 (16.5)")
	m.scan("frame=  100 fps= 25 q=28.0 size=  512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1.0x")

	require.NotNil(t, m.VMAF)
	assert.InDelta(t, 93.421, *m.VMAF, 0.0001)
	require.NotNil(t, m.PSNR)
	assert.InDelta(t, 48.612, *m.PSNR, 0.0001)
	require.NotNil(t, m.SSIM)
	assert.InDelta(t, 0.9782, *m.SSIM, 0.0001)
}

func TestCleanPassLogs(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "passlog")
	require.NoError(t, os.WriteFile(prefix+"-0.log", []byte("stats"), 0o644))
	require.NoError(t, os.WriteFile(prefix+"-0.log.mbtree", []byte("tree"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("keep"), 0o644))

	cleanPassLogs(prefix)

	assert.NoFileExists(t, prefix+"-0.log")
	assert.NoFileExists(t, prefix+"-0.log.mbtree")
	assert.FileExists(t, filepath.Join(dir, "other.txt"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, "ffmpeg", cfg.FFmpegBinary)
	assert.Equal(t, "ffprobe", cfg.FFprobeBinary)
	assert.Equal(t, 6*time.Hour, cfg.TaskTimeLimit)
}
