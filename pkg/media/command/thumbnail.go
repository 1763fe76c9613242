package command

import (
	"fmt"
	"strconv"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

// thumbnailParts expands a thumbnail operation into inline flags and
// video filter strings. Frame selection filters come first so any
// sizing applies to the selected frames.
func thumbnailParts(op *validate.Thumbnail) (inline, filters []string) {
	quality := op.Quality
	if quality == 0 {
		quality = 2
	}

	switch op.Mode {
	case "multiple":
		interval := op.Interval
		if interval <= 0 {
			interval = 1
		}
		filters = append(filters, fmt.Sprintf("fps=%g", 1/interval))
		if op.Count > 0 {
			inline = append(inline, "-frames:v", strconv.Itoa(op.Count))
		}

	case "best":
		sample := op.SampleFrames
		if sample == 0 {
			sample = 100
		}
		count := op.Count
		if count == 0 {
			count = 1
		}
		filters = append(filters, fmt.Sprintf("thumbnail=n=%d", sample))
		inline = append(inline, "-frames:v", strconv.Itoa(count))

	case "sprite":
		interval := op.Interval
		if interval <= 0 {
			interval = 1
		}
		cols, rows := op.Cols, op.Rows
		if cols == 0 {
			cols = 5
		}
		if rows == 0 {
			rows = 5
		}
		tileWidth, tileHeight := op.TileWidth, op.TileHeight
		if tileWidth == 0 {
			tileWidth = 160
		}
		if tileHeight == 0 {
			tileHeight = 90
		}
		filters = append(filters,
			fmt.Sprintf("fps=1/%g", interval),
			fmt.Sprintf("scale=%d:%d", tileWidth, tileHeight),
			fmt.Sprintf("tile=%dx%d", cols, rows))

	default: // single
		t := 0.0
		if op.Time != nil {
			t = *op.Time
		}
		inline = append(inline, "-ss", formatSeconds(t), "-frames:v", "1")
	}

	if op.Width > 0 && op.Height > 0 && op.Mode != "sprite" {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", op.Width, op.Height))
	}

	inline = append(inline, "-q:v", strconv.Itoa(quality))
	return inline, filters
}
