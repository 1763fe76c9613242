// Package probe wraps ffprobe for container and stream inspection.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Result is the parsed ffprobe output.
type Result struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format is the container-level section.
type Format struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// Stream is one elementary stream.
type Stream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	PixFmt        string `json:"pix_fmt"`
	RFrameRate    string `json:"r_frame_rate"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout"`
	BitRate       string `json:"bit_rate"`
	Duration      string `json:"duration"`
}

// Duration returns the container duration in seconds. The second
// return is false when ffprobe reported none.
func (r *Result) Duration() (float64, bool) {
	if r.Format.Duration == "" {
		return 0, false
	}
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

// VideoStream returns the first video stream, or nil.
func (r *Result) VideoStream() *Stream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (r *Result) AudioStream() *Stream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Prober runs ffprobe against local files.
type Prober struct {
	binary string
}

// NewProber creates a prober. An empty binary defaults to "ffprobe"
// on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Probe inspects a local media file.
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, stderr.String())
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}
