// Package command turns validated operation lists into ffmpeg argument
// vectors. Every string that reaches an argument has already passed the
// validate package; the builder only arranges flags and filter graphs.
package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

// Request describes one ffmpeg run over locally staged files. Paths
// inside Operations (watermark images, subtitle files, concat inputs)
// must already be local paths.
type Request struct {
	InputPath  string
	OutputPath string
	Operations []validate.Operation
	Options    *validate.Options

	// ConcatListPath is where the caller will write the demuxer list
	// before running a demuxer-mode concat.
	ConcatListPath string

	// Pass is 0 for single-pass, 1 or 2 for two-pass encoding.
	// PassLogPrefix is required when Pass is set.
	Pass          int
	PassLogPrefix string
}

// Invocation is a ready argument vector. For demuxer-mode concat,
// ConcatList holds the list file content the caller must write to
// Request.ConcatListPath first.
type Invocation struct {
	Args       []string
	ConcatList string
}

// Builder assembles ffmpeg invocations for a fixed set of hardware
// capabilities.
type Builder struct {
	caps Caps
}

func NewBuilder(caps Caps) *Builder {
	return &Builder{caps: caps}
}

// Build produces the argument vector for a request. Identical requests
// produce identical vectors.
func (b *Builder) Build(req *Request) (*Invocation, error) {
	for _, op := range req.Operations {
		if concat, ok := op.(*validate.Concat); ok {
			return b.buildConcat(req, concat)
		}
	}

	args := []string{"ffmpeg", "-y"}
	args = append(args, hwaccelFlags(b.caps)...)

	// Input seeking for trim sits before -i so ffmpeg can seek by
	// keyframe instead of decoding from the start.
	var trim *validate.Trim
	for _, op := range req.Operations {
		if t, ok := op.(*validate.Trim); ok {
			trim = t
		}
	}
	if trim != nil && trim.Start != nil {
		args = append(args, "-ss", formatSeconds(*trim.Start))
	}

	args = append(args, "-i", req.InputPath)

	var watermark *validate.Watermark
	var videoFilters, audioFilters []string
	var inline []string

	for _, op := range req.Operations {
		switch o := op.(type) {
		case *validate.Transcode:
			inline = append(inline, b.transcodeFlags(o)...)
		case *validate.Trim:
			if o.Duration != nil {
				inline = append(inline, "-t", formatSeconds(*o.Duration))
			} else if o.End != nil {
				end := *o.End
				if o.Start != nil {
					// -ss before -i resets timestamps; -to is
					// relative to the seeked position.
					end -= *o.Start
				}
				inline = append(inline, "-to", formatSeconds(end))
			}
		case *validate.Watermark:
			watermark = o
		case *validate.Filter:
			vf, af := filterStrings(o)
			videoFilters = append(videoFilters, vf...)
			audioFilters = append(audioFilters, af...)
		case *validate.Scale:
			videoFilters = append(videoFilters, scaleFilter(o))
		case *validate.Crop:
			videoFilters = append(videoFilters, cropFilter(o))
		case *validate.Rotate:
			videoFilters = append(videoFilters, rotateFilter(o))
		case *validate.Flip:
			videoFilters = append(videoFilters, flipFilter(o))
		case *validate.Audio:
			audioFilters = append(audioFilters, audioFilterStrings(o)...)
		case *validate.Subtitle:
			videoFilters = append(videoFilters, subtitleFilter(o))
		case *validate.Thumbnail:
			thumbInline, thumbFilters := thumbnailParts(o)
			inline = append(inline, thumbInline...)
			videoFilters = append(videoFilters, thumbFilters...)
		case *validate.Stream:
			inline = append(inline, streamingFlags(o)...)
		default:
			return nil, fmt.Errorf("unsupported operation kind %q", op.Kind())
		}
	}

	if watermark != nil {
		args = append(args, "-i", watermark.Image)
		graph := watermarkGraph(watermark, videoFilters)
		args = append(args, "-filter_complex", graph, "-map", "[v]", "-map", "0:a?")
	} else if len(videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(videoFilters, ","))
	}

	if len(audioFilters) > 0 {
		args = append(args, "-af", strings.Join(audioFilters, ","))
	}

	args = append(args, inline...)
	args = append(args, globalFlags(req.Options)...)

	switch req.Pass {
	case 0:
		args = append(args, req.OutputPath)
	case 1:
		args = append(args, "-an", "-pass", "1", "-passlogfile", req.PassLogPrefix, "-f", "null", os.DevNull)
	case 2:
		args = append(args, "-pass", "2", "-passlogfile", req.PassLogPrefix, req.OutputPath)
	default:
		return nil, fmt.Errorf("invalid pass number %d", req.Pass)
	}

	return &Invocation{Args: args}, nil
}

// transcodeFlags emits the inline encoder flags in a fixed order.
func (b *Builder) transcodeFlags(op *validate.Transcode) []string {
	var parts []string

	if op.VideoCodec != "" {
		parts = append(parts, "-c:v", b.selectEncoder(op))
	}
	if op.AudioCodec != "" {
		parts = append(parts, "-c:a", op.AudioCodec)
	}

	if op.VideoBitrate != "" {
		parts = append(parts, "-b:v", op.VideoBitrate)
	}
	if op.MaxBitrate != "" {
		parts = append(parts, "-maxrate", op.MaxBitrate)
	}
	if op.BufferSize != "" {
		parts = append(parts, "-bufsize", op.BufferSize)
	}
	if op.AudioBitrate != "" {
		parts = append(parts, "-b:a", op.AudioBitrate)
	}

	if op.Width > 0 && op.Height > 0 {
		parts = append(parts, "-s", fmt.Sprintf("%dx%d", op.Width, op.Height))
	}
	if op.FPS > 0 {
		parts = append(parts, "-r", formatSeconds(op.FPS))
	}

	if op.CRF != nil {
		parts = append(parts, "-crf", strconv.Itoa(*op.CRF))
	}
	if op.Preset != "" {
		parts = append(parts, "-preset", op.Preset)
	}
	if op.Tune != "" {
		parts = append(parts, "-tune", op.Tune)
	}
	if op.Profile != "" {
		parts = append(parts, "-profile:v", op.Profile)
	}
	if op.Level != "" {
		parts = append(parts, "-level", op.Level)
	}
	if op.PixelFormat != "" {
		parts = append(parts, "-pix_fmt", op.PixelFormat)
	}

	if op.GOPSize > 0 {
		parts = append(parts, "-g", strconv.Itoa(op.GOPSize))
	}
	if op.BFrames != nil {
		parts = append(parts, "-bf", strconv.Itoa(*op.BFrames))
	}
	if op.RefFrames > 0 {
		parts = append(parts, "-refs", strconv.Itoa(op.RefFrames))
	}
	if op.RCLookahead != nil {
		parts = append(parts, "-rc-lookahead", strconv.Itoa(*op.RCLookahead))
	}
	if op.SCThreshold != nil {
		parts = append(parts, "-sc_threshold", strconv.Itoa(*op.SCThreshold))
	}

	if op.AudioSampleRate > 0 {
		parts = append(parts, "-ar", strconv.Itoa(op.AudioSampleRate))
	}
	if op.AudioChannels > 0 {
		parts = append(parts, "-ac", strconv.Itoa(op.AudioChannels))
	}

	// Faststart only exists for MP4-family containers.
	switch op.Format {
	case "webm", "mkv", "avi", "ts", "flv":
	default:
		parts = append(parts, "-movflags", "+faststart")
	}

	return parts
}

// selectEncoder resolves the logical codec to a concrete encoder name,
// honoring the hardware preference and the AV1 software encoder
// selector.
func (b *Builder) selectEncoder(op *validate.Transcode) string {
	codec := op.VideoCodec
	if codec == "copy" {
		return "copy"
	}

	if op.HardwareAcceleration == "none" {
		switch codec {
		case "x264", "x265":
			return "lib" + codec
		case "av1":
			if encoder, ok := av1Encoders[op.Encoder]; ok {
				return encoder
			}
			return "libaom-av1"
		default:
			return codec
		}
	}

	if codec == "av1" && op.Encoder != "" && op.Encoder != "default" {
		if encoder, ok := av1Encoders[op.Encoder]; ok {
			return encoder
		}
	}

	return bestEncoder(codec, b.caps)
}

// globalFlags emits container format, sanitized metadata, and thread
// count flags.
func globalFlags(opts *validate.Options) []string {
	if opts == nil {
		return nil
	}

	var parts []string
	if opts.Format != "" {
		parts = append(parts, "-f", opts.Format)
	}
	for _, key := range sortedKeys(opts.Metadata) {
		parts = append(parts, "-metadata",
			fmt.Sprintf("%s=%s", escapeMetadata(key), escapeMetadata(opts.Metadata[key])))
	}
	if opts.Threads > 0 {
		parts = append(parts, "-threads", strconv.Itoa(opts.Threads))
	}
	return parts
}

// escapeMetadata replaces shell metacharacters with underscores and
// caps the length at 255.
func escapeMetadata(field string) string {
	replacer := strings.NewReplacer(
		"|", "_", ";", "_", "&", "_", "$", "_", "`", "_",
		"<", "_", ">", "_", "\"", "_", "'", "_", "\\", "_",
		"\n", "_", "\r", "_", "\t", "_",
	)
	field = replacer.Replace(field)
	if len(field) > 255 {
		field = field[:255]
	}
	return field
}

func sortedKeys(m map[string]string) []string {
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

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
