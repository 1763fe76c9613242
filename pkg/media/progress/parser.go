// Package progress parses the ffmpeg stderr status line stream into
// structured updates.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	framePattern   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsPattern     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timePattern    = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
	bitratePattern = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
	speedPattern   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// Update is one parsed status line. Fields are nil when the line did
// not carry them.
type Update struct {
	Frame      *int64
	FPS        *float64
	Time       *float64 // seconds of output produced
	Percentage *float64 // only when the total duration is known
	Bitrate    *float64 // kbits/s
	Speed      *float64 // realtime multiple
}

// Parser extracts updates from status lines. totalDuration of zero
// means the source duration is unknown or genuinely zero.
type Parser struct {
	totalDuration float64
	hasDuration   bool
}

// NewParser creates a parser. Pass hasDuration false when probing
// could not determine the source length; percentage is then omitted.
func NewParser(totalDuration float64, hasDuration bool) *Parser {
	return &Parser{totalDuration: totalDuration, hasDuration: hasDuration}
}

// Parse reads one stderr line. It returns nil for lines that carry no
// progress fields.
func (p *Parser) Parse(line string) *Update {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	update := &Update{}
	found := false

	if m := framePattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			update.Frame = &v
			found = true
		}
	}

	if m := fpsPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			update.FPS = &v
			found = true
		}
	}

	if m := timePattern.FindStringSubmatch(line); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		seconds, _ := strconv.Atoi(m[3])
		centis, _ := strconv.Atoi(m[4])
		total := float64(hours)*3600 + float64(minutes)*60 + float64(seconds) + float64(centis)/100
		update.Time = &total
		found = true

		if p.hasDuration {
			var pct float64
			if p.totalDuration > 0 {
				pct = total / p.totalDuration * 100
				if pct > 100 {
					pct = 100
				}
			} else if total > 0 {
				// Zero-length source that still produced output
				// counts as done.
				pct = 100
			}
			update.Percentage = &pct
		}
	}

	if m := bitratePattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			update.Bitrate = &v
			found = true
		}
	}

	if m := speedPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			update.Speed = &v
			found = true
		}
	}

	if !found {
		return nil
	}
	return update
}
