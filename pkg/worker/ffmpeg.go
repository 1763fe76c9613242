package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/CodecFlow/codecflow/pkg/media/progress"
)

const (
	// stderrTailLines is how many trailing tool lines a failure keeps
	// for internal logging.
	stderrTailLines = 10

	// terminateGrace is the wait between SIGTERM and SIGKILL.
	terminateGrace = 5 * time.Second
)

// toolError carries the sanitized failure classification plus the
// stderr tail for internal logs. The tail never reaches clients.
type toolError struct {
	timedOut bool
	exitErr  error
	tail     []string
}

func (e *toolError) Error() string {
	if e.timedOut {
		return "tool run timed out"
	}
	return fmt.Sprintf("tool run failed: %v", e.exitErr)
}

// qualityMetrics are scores scraped from the tool's stderr when the
// command requested them.
type qualityMetrics struct {
	VMAF *float64
	PSNR *float64
	SSIM *float64
}

var (
	vmafRe = regexp.MustCompile(`VMAF score:\s*([\d.]+)`)
	psnrRe = regexp.MustCompile(`PSNR.*average:([\d.]+)`)
	ssimRe = regexp.MustCompile(`SSIM.*All:([\d.]+)`)
)

func (m *qualityMetrics) scan(line string) {
	if match := vmafRe.FindStringSubmatch(line); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			m.VMAF = &v
		}
	}
	if match := psnrRe.FindStringSubmatch(line); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			m.PSNR = &v
		}
	}
	if match := ssimRe.FindStringSubmatch(line); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			m.SSIM = &v
		}
	}
}

// runTool executes the tool, streaming stderr lines through the
// progress parser. On timeout or cancellation it terminates the child,
// waits a short grace, then kills. The parser may be nil (pass 1 of a
// two-pass run reports no progress).
func runTool(ctx context.Context, binary string, args []string, timeout time.Duration,
	parser *progress.Parser, onProgress func(*progress.Update)) (*qualityMetrics, error) {

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// args[0] is the builder's tool name; the configured binary wins.
	cmd := exec.Command(binary, args[1:]...)
	cmd.Stdin = nil
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tool: %w", err)
	}

	// Escalating shutdown on context expiry.
	killDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-time.After(terminateGrace):
				cmd.Process.Kill()
			case <-killDone:
			}
		case <-killDone:
		}
	}()

	metrics := &qualityMetrics{}
	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
		metrics.scan(line)
		if parser != nil {
			if update := parser.Parse(line); update != nil && onProgress != nil {
				onProgress(update)
			}
		}
	}

	waitErr := cmd.Wait()
	close(killDone)

	if waitErr != nil {
		timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
		if ctx.Err() != nil && !timedOut {
			// Explicit cancellation, not a deadline.
			return nil, ctx.Err()
		}
		return nil, &toolError{timedOut: timedOut, exitErr: waitErr, tail: tail}
	}
	return metrics, nil
}

// cleanPassLogs removes the stat files a two-pass run leaves behind.
func cleanPassLogs(prefix string) {
	matches, err := filepath.Glob(prefix + "*")
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}
