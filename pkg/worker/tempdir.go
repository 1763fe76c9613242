// Package worker executes dequeued jobs: it pulls the input, probes
// it, runs the media tool, relays progress, and uploads the result.
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
)

const jobDirPrefix = "job-"

// Workspace is a job-scoped temp directory with input and output
// subdirectories. Release removes the whole tree; it runs on every
// exit path.
type Workspace struct {
	Root      string
	InputDir  string
	OutputDir string
}

// TempManager allocates job workspaces under a common root so a
// startup sweep can find directories orphaned by a crash.
type TempManager struct {
	root   string
	logger *logging.Logger
}

func NewTempManager(root string, logger *logging.Logger) (*TempManager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "codecflow")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp root: %w", err)
	}
	return &TempManager{root: root, logger: logger.WithComponent("tempdir")}, nil
}

// Acquire creates the workspace for a job.
func (m *TempManager) Acquire(jobID uuid.UUID) (*Workspace, error) {
	root := filepath.Join(m.root, jobDirPrefix+jobID.String())
	ws := &Workspace{
		Root:      root,
		InputDir:  filepath.Join(root, "input"),
		OutputDir: filepath.Join(root, "output"),
	}
	for _, dir := range []string{ws.InputDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

// Release removes the workspace tree. Safe to call more than once.
func (ws *Workspace) Release() {
	if ws.Root != "" {
		os.RemoveAll(ws.Root)
	}
}

// SweepOrphans removes job directories left behind by earlier worker
// processes. Runs once at startup, before any job is taken.
func (m *TempManager) SweepOrphans() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), jobDirPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("removed orphaned job workspaces", map[string]interface{}{
			"count": removed,
		})
	}
	return removed
}
