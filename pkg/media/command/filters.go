package command

import (
	"fmt"
	"strings"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

// watermarkPositions maps a named position to overlay x:y expressions.
var watermarkPositions = map[string][2]string{
	"top-left":     {"10", "10"},
	"top-right":    {"W-w-10", "10"},
	"bottom-left":  {"10", "H-h-10"},
	"bottom-right": {"W-w-10", "H-h-10"},
	"center":       {"(W-w)/2", "(H-h)/2"},
}

// watermarkGraph builds the overlay filter graph. Input [1:v] is the
// watermark image; the caller adds it as a second -i. Any plain video
// filters are chained after the overlay so they apply to the combined
// picture. The final label is always [v].
func watermarkGraph(wm *validate.Watermark, videoFilters []string) string {
	pos, ok := watermarkPositions[wm.Position]
	if !ok {
		pos = watermarkPositions["bottom-right"]
	}

	prep := []string{fmt.Sprintf("scale=iw*%g:-1", wm.Scale)}
	if wm.Opacity < 1 {
		prep = append(prep, "format=rgba", fmt.Sprintf("colorchannelmixer=aa=%g", wm.Opacity))
	}

	graph := fmt.Sprintf("[1:v]%s[wm];[0:v][wm]overlay=%s:%s", strings.Join(prep, ","), pos[0], pos[1])

	if len(videoFilters) > 0 {
		graph += "[ov];[ov]" + strings.Join(videoFilters, ",") + "[v]"
	} else {
		graph += "[v]"
	}
	return graph
}

// filterStrings expands a filter operation into video and audio filter
// strings.
func filterStrings(op *validate.Filter) (video, audio []string) {
	var eqParts []string
	if op.Brightness != nil {
		eqParts = append(eqParts, fmt.Sprintf("brightness=%g", *op.Brightness))
	}
	if op.Contrast != nil {
		eqParts = append(eqParts, fmt.Sprintf("contrast=%g", *op.Contrast))
	}
	if op.Saturation != nil {
		eqParts = append(eqParts, fmt.Sprintf("saturation=%g", *op.Saturation))
	}
	if op.Gamma != nil {
		eqParts = append(eqParts, fmt.Sprintf("gamma=%g", *op.Gamma))
	}
	if len(eqParts) > 0 {
		video = append(video, "eq="+strings.Join(eqParts, ":"))
	}

	if op.Hue != nil {
		video = append(video, fmt.Sprintf("hue=h=%g", *op.Hue))
	}

	if op.Speed != nil && *op.Speed > 0 {
		video = append(video, fmt.Sprintf("setpts=%g*PTS", 1 / *op.Speed))
		audio = append(audio, atempoChain(*op.Speed)...)
	}

	if op.Name != "" {
		if len(op.Params) > 0 {
			var pairs []string
			for _, key := range sortedParamKeys(op.Params) {
				pairs = append(pairs, fmt.Sprintf("%s=%v", key, op.Params[key]))
			}
			video = append(video, op.Name+"="+strings.Join(pairs, ":"))
		} else {
			video = append(video, namedFilterDefault(op.Name))
		}
	}

	return video, audio
}

// namedFilterDefault supplies sensible arguments for bare named
// filters that need them.
func namedFilterDefault(name string) string {
	switch name {
	case "denoise":
		return "hqdn3d"
	case "sharpen":
		return "unsharp=5:5:1.0:5:5:1.0"
	case "blur":
		return "boxblur=2"
	case "deinterlace":
		return "yadif=mode=send_frame"
	case "stabilize":
		return "vidstabtransform=smoothing=10"
	default:
		return name
	}
}

// atempoChain builds an atempo chain for speeds outside the filter's
// native 0.5..2.0 range.
func atempoChain(speed float64) []string {
	var filters []string
	if speed <= 0 {
		return filters
	}

	remaining := speed
	for remaining > 2.0 {
		filters = append(filters, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5 {
		filters = append(filters, "atempo=0.5")
		remaining /= 0.5
	}
	filters = append(filters, fmt.Sprintf("atempo=%.4f", remaining))
	return filters
}

func scaleFilter(op *validate.Scale) string {
	width, height := op.Width, op.Height
	if width == 0 || width == validate.AutoDimension {
		width = -1
	}
	if height == 0 || height == validate.AutoDimension {
		height = -1
	}

	algorithm := op.Algorithm
	if algorithm == "" {
		algorithm = "lanczos"
	}
	return fmt.Sprintf("scale=%d:%d:flags=%s", width, height, algorithm)
}

func cropFilter(op *validate.Crop) string {
	width, height, x, y := op.Width, op.Height, op.X, op.Y
	if width == "" {
		width = "iw"
	}
	if height == "" {
		height = "ih"
	}
	if x == "" {
		x = "0"
	}
	if y == "" {
		y = "0"
	}
	return fmt.Sprintf("crop=%s:%s:%s:%s", width, height, x, y)
}

func rotateFilter(op *validate.Rotate) string {
	switch op.Angle {
	case 90:
		return "transpose=1"
	case -90:
		return "transpose=2"
	case 180:
		return "transpose=1,transpose=1"
	default:
		return fmt.Sprintf("rotate=%g*PI/180", op.Angle)
	}
}

func flipFilter(op *validate.Flip) string {
	switch op.Direction {
	case "vertical":
		return "vflip"
	case "both":
		return "hflip,vflip"
	default:
		return "hflip"
	}
}

func audioFilterStrings(op *validate.Audio) []string {
	var filters []string

	if op.Volume != "" {
		filters = append(filters, "volume="+op.Volume)
	}

	if op.Normalize {
		if op.NormalizeType == "dynaudnorm" {
			filters = append(filters, "dynaudnorm")
		} else {
			// EBU R128 defaults.
			filters = append(filters, "loudnorm=I=-24:TP=-2:LRA=7")
		}
	}

	if op.SampleRate > 0 {
		filters = append(filters, fmt.Sprintf("aresample=%d", op.SampleRate))
	}

	switch op.Channels {
	case 1:
		filters = append(filters, "pan=mono|c0=0.5*c0+0.5*c1")
	case 2:
		filters = append(filters, "pan=stereo|c0=c0|c1=c1")
	}

	if op.FadeIn != nil {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%g", *op.FadeIn))
	}
	if op.FadeOut != nil {
		filters = append(filters, fmt.Sprintf("afade=t=out:d=%g", *op.FadeOut))
	}

	return filters
}

func subtitleFilter(op *validate.Subtitle) string {
	lower := strings.ToLower(op.Path)
	if strings.HasSuffix(lower, ".ass") || strings.HasSuffix(lower, ".ssa") {
		return "ass=" + op.Path
	}
	if op.Style != "" {
		return fmt.Sprintf("subtitles=%s:force_style='%s'", op.Path, op.Style)
	}
	return "subtitles=" + op.Path
}

func sortedParamKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
