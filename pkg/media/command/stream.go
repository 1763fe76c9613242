package command

import (
	"fmt"
	"strconv"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

// streamingFlags emits the segmenter configuration for HLS or DASH
// packaging.
func streamingFlags(op *validate.Stream) []string {
	segment := op.SegmentDuration
	if segment == 0 {
		segment = 6
	}

	if op.Format == "dash" {
		return []string{
			"-f", "dash",
			"-seg_duration", strconv.Itoa(segment),
			"-use_template", "1",
			"-use_timeline", "1",
		}
	}

	parts := []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", "segment_%03d.ts",
	}

	if len(op.Variants) > 0 {
		parts = append(parts, "-master_pl_name", "master.m3u8")
		for i, variant := range op.Variants {
			if variant.Width > 0 && variant.Height > 0 {
				parts = append(parts,
					fmt.Sprintf("-s:v:%d", i),
					fmt.Sprintf("%dx%d", variant.Width, variant.Height))
			}
			if variant.Bitrate != "" {
				parts = append(parts, fmt.Sprintf("-b:v:%d", i), variant.Bitrate)
			}
			if variant.AudioRate != "" {
				parts = append(parts, fmt.Sprintf("-b:a:%d", i), variant.AudioRate)
			}
			parts = append(parts, "-var_stream_map", fmt.Sprintf("v:%d,a:%d", i, i))
		}
	}

	return parts
}
