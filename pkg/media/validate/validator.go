package validate

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
)

var (
	operationTypePattern = regexp.MustCompile(`^[a-zA-Z_]+$`)
	bitratePattern       = regexp.MustCompile(`^\d+[kKmM]?$`)
	volumeDBPattern      = regexp.MustCompile(`^-?\d+(\.\d+)?dB$`)
	cropExprPattern      = regexp.MustCompile(`^[a-zA-Z0-9\+\-\*\/\(\)\.]+$`)
	timePattern          = regexp.MustCompile(`^(\d{1,2}:)?(\d{1,2}:)?\d{1,2}(\.\d{1,3})?$`)
)

// dangerousChars are rejected in every string parameter. They are the
// shell metacharacters plus the null byte.
var dangerousChars = []string{"\x00", "|", ";", "&", "$", "`", "<", ">", "\"", "'", "\n", "\r"}

// Validator canonicalizes untrusted operation lists. It is stateless
// apart from configuration and safe for concurrent use.
type Validator struct {
	maxOperations int
	log           *logging.Logger
}

// NewValidator creates a validator with the given operation cap. A cap
// of zero applies DefaultMaxOperations.
func NewValidator(maxOperations int, logger *logging.Logger) *Validator {
	if maxOperations <= 0 {
		maxOperations = DefaultMaxOperations
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Validator{
		maxOperations: maxOperations,
		log:           logger.WithComponent("validator"),
	}
}

// ValidateOperations validates and canonicalizes a raw operation list.
// An empty list is valid and canonicalizes to a single default
// transcode. The returned list is the form persisted with the job;
// validating it again returns an equal list.
func (v *Validator) ValidateOperations(raw []map[string]interface{}) ([]Operation, error) {
	if len(raw) == 0 {
		return []Operation{defaultTranscode()}, nil
	}

	if len(raw) > v.maxOperations {
		return nil, newError("operations", "too many operations specified (maximum %d)", v.maxOperations)
	}

	ops := make([]Operation, 0, len(raw))
	hasConcat := false

	for i, item := range raw {
		opType, ok := asString(item["type"])
		if !ok || opType == "" {
			return nil, newError(fmt.Sprintf("operations[%d].type", i), "missing or invalid 'type' field")
		}

		if !operationTypePattern.MatchString(opType) {
			return nil, newSecurityError("invalid operation type format: %s", sanitizeForMessage(opType))
		}

		if err := checkOperationKeys(i, opType, item); err != nil {
			return nil, err
		}

		var (
			op  Operation
			err error
		)

		switch opType {
		case KindTranscode:
			op, err = v.validateTranscode(i, item)
		case KindTrim:
			op, err = v.validateTrim(i, item)
		case KindWatermark:
			op, err = v.validateWatermark(i, item)
		case KindFilter:
			op, err = v.validateFilter(i, item)
		case KindScale:
			op, err = v.validateScale(i, item)
		case KindCrop:
			op, err = v.validateCrop(i, item)
		case KindRotate:
			op, err = v.validateRotate(i, item)
		case KindFlip:
			op, err = v.validateFlip(i, item)
		case KindAudio:
			op, err = v.validateAudio(i, item)
		case KindSubtitle:
			op, err = v.validateSubtitle(i, item)
		case KindThumbnail:
			op, err = v.validateThumbnail(i, item)
		case KindConcat:
			op, err = v.validateConcat(i, item)
			hasConcat = true
		case KindStream, "streaming":
			op, err = v.validateStream(i, item)
		default:
			return nil, newError(fmt.Sprintf("operations[%d].type", i), "unknown operation type: %s", opType)
		}

		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	if hasConcat && len(ops) > 1 {
		return nil, newError("operations", "concat cannot be combined with other operations")
	}

	if err := v.checkCodecContainerCompatibility(ops); err != nil {
		return nil, err
	}
	if err := v.checkResourceLimits(ops); err != nil {
		return nil, err
	}

	return ops, nil
}

// ValidateOptions validates the output-global options map.
func (v *Validator) ValidateOptions(raw map[string]interface{}) (*Options, error) {
	opts := &Options{}
	if raw == nil {
		return opts, nil
	}

	if format, ok := raw["format"]; ok {
		s, ok := asString(format)
		if !ok {
			return nil, newError("options.format", "format must be a string")
		}
		s = strings.ToLower(s)
		if !allowedOutputFormats[s] {
			return nil, newError("options.format", "unsupported output format: %s", sanitizeForMessage(s))
		}
		opts.Format = s
	}

	if threads, ok := raw["threads"]; ok {
		n, ok := asInt(threads)
		if !ok || n < 0 || n > 64 {
			return nil, newError("options.threads", "threads must be an integer between 0 and 64")
		}
		opts.Threads = n
	}

	if metadata, ok := raw["metadata"]; ok {
		m, ok := metadata.(map[string]interface{})
		if !ok {
			return nil, newError("options.metadata", "metadata must be a map of strings")
		}
		opts.Metadata = make(map[string]string, len(m))
		for key, value := range m {
			s, ok := asString(value)
			if !ok {
				return nil, newError("options.metadata", "metadata value for %q must be a string", sanitizeForMessage(key))
			}
			if err := checkDangerous(fmt.Sprintf("options.metadata.%s", key), key); err != nil {
				return nil, err
			}
			opts.Metadata[key] = s
		}
	}

	return opts, nil
}

func defaultTranscode() *Transcode {
	return &Transcode{
		Type:       KindTranscode,
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Preset:     "medium",
	}
}

// checkOperationKeys rejects parameters the operation type does not
// define, so a misspelled key fails the request instead of being
// dropped.
func checkOperationKeys(i int, opType string, op map[string]interface{}) error {
	lookup := opType
	if lookup == "streaming" {
		lookup = KindStream
	}
	allowed, known := allowedOperationKeys[lookup]
	if !known {
		return nil
	}
	for key := range op {
		if !allowed[key] {
			return newError(fmt.Sprintf("operations[%d].%s", i, sanitizeForMessage(key)),
				"unknown parameter %q for operation type %q", sanitizeForMessage(key), opType)
		}
	}
	return nil
}

// checkDangerous rejects shell metacharacters in a string parameter.
func checkDangerous(field, value string) error {
	for _, ch := range dangerousChars {
		if strings.Contains(value, ch) {
			return newSecurityError("dangerous character in %s", field)
		}
	}
	return nil
}

func sanitizeForMessage(s string) string {
	if len(s) > 64 {
		s = s[:64]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r < 127 {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (v *Validator) validateTranscode(i int, op map[string]interface{}) (*Transcode, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Transcode{Type: KindTranscode}

	if raw, ok := op["video_codec"]; ok {
		codec, ok := asString(raw)
		if !ok {
			return nil, newError(field("video_codec"), "video codec must be a string")
		}
		if !allowedVideoCodecs[codec] {
			return nil, newError(field("video_codec"), "invalid video codec: %s", sanitizeForMessage(codec))
		}
		out.VideoCodec = codec
	}

	if raw, ok := op["audio_codec"]; ok {
		codec, ok := asString(raw)
		if !ok {
			return nil, newError(field("audio_codec"), "audio codec must be a string")
		}
		if !allowedAudioCodecs[codec] {
			return nil, newError(field("audio_codec"), "invalid audio codec: %s", sanitizeForMessage(codec))
		}
		out.AudioCodec = codec
	}

	if raw, ok := op["preset"]; ok {
		preset, ok := asString(raw)
		if !ok || !allowedPresets[preset] {
			return nil, newError(field("preset"), "invalid preset")
		}
		out.Preset = preset
	}

	if raw, ok := op["profile"]; ok {
		profile, ok := asString(raw)
		if !ok || !allowedProfiles[profile] {
			return nil, newError(field("profile"), "invalid profile")
		}
		out.Profile = profile
	}

	if raw, ok := firstOf(op, "pixel_format", "pix_fmt"); ok {
		pixFmt, ok := asString(raw)
		if !ok || !allowedPixelFormats[pixFmt] {
			return nil, newError(field("pixel_format"), "invalid pixel format")
		}
		out.PixelFormat = pixFmt
	}

	if raw, ok := firstOf(op, "hardware_acceleration", "hw_accel"); ok {
		hw, ok := asString(raw)
		if !ok || !allowedHWAccel[hw] {
			return nil, newError(field("hardware_acceleration"), "invalid hardware acceleration")
		}
		out.HardwareAcceleration = hw
	}

	for _, br := range []struct {
		key string
		dst *string
	}{
		{"video_bitrate", &out.VideoBitrate},
		{"audio_bitrate", &out.AudioBitrate},
		{"max_bitrate", &out.MaxBitrate},
		{"buffer_size", &out.BufferSize},
	} {
		if raw, ok := op[br.key]; ok {
			normalized, err := validateBitrate(field(br.key), raw)
			if err != nil {
				return nil, err
			}
			*br.dst = normalized
		}
	}

	width, height, err := validateResolution(field(""), op["width"], op["height"])
	if err != nil {
		return nil, err
	}
	out.Width, out.Height = width, height
	if width > 0 && height > 0 && width*height > warnPixels {
		v.log.Warn("high resolution requested", map[string]interface{}{
			"width": width, "height": height, "total_pixels": width * height,
		})
	}

	if raw, ok := op["fps"]; ok {
		fps, ok := asNumber(raw)
		if !ok || fps <= 0 || fps > maxFPS {
			return nil, newError(field("fps"), "fps out of valid range (1-%d)", maxFPS)
		}
		out.FPS = fps
	}

	if raw, ok := op["crf"]; ok {
		crf, ok := asInt(raw)
		if !ok || crf < 0 || crf > maxCRF {
			return nil, newError(field("crf"), "crf out of valid range (0-%d)", maxCRF)
		}
		out.CRF = &crf
	}

	if raw, ok := op["allow_lossless"]; ok {
		out.AllowLossless = asBool(raw)
	}

	if out.CRF != nil && *out.CRF < losslessCRF && !out.AllowLossless {
		return nil, newError(field("crf"), "crf below %d requires allow_lossless=true", losslessCRF)
	}

	if raw, ok := firstOf(op, "gop_size", "keyint"); ok {
		gop, ok := asInt(raw)
		if !ok || gop < 1 || gop > 600 {
			return nil, newError(field("gop_size"), "gop size out of valid range (1-600)")
		}
		out.GOPSize = gop
	}

	if raw, ok := firstOf(op, "b_frames", "bframes"); ok {
		bf, ok := asInt(raw)
		if !ok || bf < 0 || bf > 16 {
			return nil, newError(field("b_frames"), "b-frames out of valid range (0-16)")
		}
		out.BFrames = &bf
	}

	if raw, ok := firstOf(op, "ref_frames", "refs"); ok {
		refs, ok := asInt(raw)
		if !ok || refs < 1 || refs > 16 {
			return nil, newError(field("ref_frames"), "reference frames out of valid range (1-16)")
		}
		out.RefFrames = refs
	}

	if raw, ok := op["rc_lookahead"]; ok {
		la, ok := asInt(raw)
		if !ok || la < 0 || la > 250 {
			return nil, newError(field("rc_lookahead"), "rc lookahead out of valid range (0-250)")
		}
		out.RCLookahead = &la
	}

	if raw, ok := op["sc_threshold"]; ok {
		sc, ok := asInt(raw)
		if !ok || sc < 0 || sc > 100 {
			return nil, newError(field("sc_threshold"), "scene change threshold out of valid range (0-100)")
		}
		out.SCThreshold = &sc
	}

	if raw, ok := op["two_pass"]; ok {
		out.TwoPass = asBool(raw)
	}

	if raw, ok := op["tune"]; ok {
		tune, ok := asString(raw)
		if !ok || !allowedTunes[tune] {
			return nil, newError(field("tune"), "invalid tune")
		}
		out.Tune = tune
	}

	if raw, ok := op["level"]; ok {
		level := fmt.Sprintf("%v", raw)
		if !allowedLevels[level] {
			return nil, newError(field("level"), "invalid level: %s", sanitizeForMessage(level))
		}
		out.Level = level
	}

	if raw, ok := op["encoder"]; ok {
		encoder, ok := asString(raw)
		if !ok || !allowedEncoders[encoder] {
			return nil, newError(field("encoder"), "invalid encoder")
		}
		out.Encoder = encoder
	}

	if raw, ok := op["format"]; ok {
		format, ok := asString(raw)
		if !ok {
			return nil, newError(field("format"), "format must be a string")
		}
		format = strings.ToLower(format)
		if !allowedOutputFormats[format] {
			return nil, newError(field("format"), "unsupported output format: %s", sanitizeForMessage(format))
		}
		out.Format = format
	}

	if raw, ok := op["audio_sample_rate"]; ok {
		sr, ok := asInt(raw)
		if !ok || !allowedSampleRates[sr] {
			return nil, newError(field("audio_sample_rate"), "invalid audio sample rate")
		}
		out.AudioSampleRate = sr
	}

	if raw, ok := op["audio_channels"]; ok {
		ch, ok := asInt(raw)
		if !ok || !allowedChannelCounts[ch] {
			return nil, newError(field("audio_channels"), "audio channels must be 1, 2, 6, or 8")
		}
		out.AudioChannels = ch
	}

	return out, nil
}

func (v *Validator) validateTrim(i int, op map[string]interface{}) (*Trim, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Trim{Type: KindTrim}

	if raw, ok := op["start"]; ok {
		start, err := validateTimeValue(field("start"), raw, true)
		if err != nil {
			return nil, err
		}
		out.Start = &start
	}

	if raw, ok := op["duration"]; ok {
		duration, err := validateTimeValue(field("duration"), raw, false)
		if err != nil {
			return nil, err
		}
		out.Duration = &duration
	} else if raw, ok := op["end"]; ok {
		end, err := validateTimeValue(field("end"), raw, true)
		if err != nil {
			return nil, err
		}
		out.End = &end
	}

	if out.Start != nil && out.Duration == nil && out.End == nil {
		return nil, newError(field("duration"), "trim requires duration or end time when start is specified")
	}

	return out, nil
}

func (v *Validator) validateWatermark(i int, op map[string]interface{}) (*Watermark, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }

	image, ok := asString(op["image"])
	if !ok || image == "" {
		return nil, newError(field("image"), "watermark requires 'image' field")
	}
	if err := checkDangerous(field("image"), image); err != nil {
		return nil, err
	}
	if len(image) > maxPathLength {
		return nil, newSecurityError("watermark image path too long")
	}

	out := &Watermark{
		Type:     KindWatermark,
		Image:    image,
		Position: "bottom-right",
		Opacity:  0.8,
		Scale:    0.1,
	}

	if raw, ok := op["position"]; ok {
		position, ok := asString(raw)
		if !ok || !allowedWatermarkPositions[position] {
			return nil, newError(field("position"), "invalid watermark position")
		}
		out.Position = position
	}

	if raw, ok := op["opacity"]; ok {
		opacity, ok := asNumber(raw)
		if !ok || opacity < 0 || opacity > 1 {
			return nil, newError(field("opacity"), "opacity must be between 0 and 1")
		}
		out.Opacity = opacity
	}

	if raw, ok := op["scale"]; ok {
		scale, ok := asNumber(raw)
		if !ok || scale <= 0 || scale > 1 {
			return nil, newError(field("scale"), "scale must be a fraction between 0 and 1")
		}
		out.Scale = scale
	}

	return out, nil
}

func (v *Validator) validateFilter(i int, op map[string]interface{}) (*Filter, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Filter{Type: KindFilter}

	if raw, ok := op["name"]; ok {
		name, ok := asString(raw)
		if !ok || !allowedFilters[name] {
			return nil, newError(field("name"), "unknown filter: %s", sanitizeForMessage(fmt.Sprintf("%v", raw)))
		}
		out.Name = name
		if params, ok := op["params"].(map[string]interface{}); ok {
			out.Params = params
		}
	}

	bounded := func(key string, min, max float64, dst **float64) error {
		raw, ok := op[key]
		if !ok {
			return nil
		}
		val, ok := asNumber(raw)
		if !ok || val < min || val > max {
			return newError(field(key), "%s must be between %g and %g", key, min, max)
		}
		*dst = &val
		return nil
	}

	if err := bounded("brightness", -1, 1, &out.Brightness); err != nil {
		return nil, err
	}
	if err := bounded("contrast", 0, 4, &out.Contrast); err != nil {
		return nil, err
	}
	if err := bounded("saturation", 0, 3, &out.Saturation); err != nil {
		return nil, err
	}
	if err := bounded("hue", -180, 180, &out.Hue); err != nil {
		return nil, err
	}
	if err := bounded("gamma", 0.1, 10, &out.Gamma); err != nil {
		return nil, err
	}
	if err := bounded("speed", 0.25, 4, &out.Speed); err != nil {
		return nil, err
	}

	return out, nil
}

func (v *Validator) validateScale(i int, op map[string]interface{}) (*Scale, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Scale{Type: KindScale}

	axis := func(key string, min, max int) (int, error) {
		raw, ok := op[key]
		if !ok {
			return 0, nil
		}
		if s, ok := asString(raw); ok && s == "auto" {
			return AutoDimension, nil
		}
		n, ok := asInt(raw)
		if !ok {
			return 0, newError(field(key), "%s must be a number or 'auto'", key)
		}
		if n == AutoDimension {
			return AutoDimension, nil
		}
		if n < min || n > max {
			return 0, newError(field(key), "%s out of valid range (%d-%d)", key, min, max)
		}
		if n%2 != 0 {
			return 0, newError(field(key), "%s must be even number", key)
		}
		return n, nil
	}

	width, err := axis("width", minWidth, maxWidth)
	if err != nil {
		return nil, err
	}
	height, err := axis("height", minHeight, maxHeight)
	if err != nil {
		return nil, err
	}
	out.Width, out.Height = width, height

	if raw, ok := op["algorithm"]; ok {
		algorithm, ok := asString(raw)
		if !ok || !allowedScaleAlgorithms[algorithm] {
			return nil, newError(field("algorithm"), "invalid scaling algorithm")
		}
		out.Algorithm = algorithm
	}

	return out, nil
}

func (v *Validator) validateCrop(i int, op map[string]interface{}) (*Crop, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Crop{Type: KindCrop}

	set := func(key string, dst *string) error {
		raw, ok := op[key]
		if !ok {
			return nil
		}
		if s, ok := asString(raw); ok {
			// Tool expressions such as "iw/2" are permitted; the
			// pattern excludes every shell metacharacter.
			if !cropExprPattern.MatchString(s) {
				return newError(field(key), "invalid %s expression", key)
			}
			*dst = s
			return nil
		}
		if n, ok := asNumber(raw); ok {
			if n < 0 {
				return newError(field(key), "%s must be non-negative", key)
			}
			*dst = trimFloat(n)
			return nil
		}
		return newError(field(key), "%s must be a number or expression", key)
	}

	for _, f := range []struct {
		key string
		dst *string
	}{{"width", &out.Width}, {"height", &out.Height}, {"x", &out.X}, {"y", &out.Y}} {
		if err := set(f.key, f.dst); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (v *Validator) validateRotate(i int, op map[string]interface{}) (*Rotate, error) {
	out := &Rotate{Type: KindRotate}

	if raw, ok := op["angle"]; ok {
		angle, ok := asNumber(raw)
		if !ok {
			return nil, newError(fmt.Sprintf("operations[%d].angle", i), "angle must be a number")
		}
		// Normalize to (-180, 180].
		angle = math.Mod(angle, 360)
		if angle > 180 {
			angle -= 360
		} else if angle <= -180 {
			angle += 360
		}
		out.Angle = angle
	}

	return out, nil
}

func (v *Validator) validateFlip(i int, op map[string]interface{}) (*Flip, error) {
	direction := "horizontal"
	if raw, ok := op["direction"]; ok {
		s, ok := asString(raw)
		if !ok || (s != "horizontal" && s != "vertical" && s != "both") {
			return nil, newError(fmt.Sprintf("operations[%d].direction", i), "invalid flip direction")
		}
		direction = s
	}

	return &Flip{Type: KindFlip, Direction: direction}, nil
}

func (v *Validator) validateAudio(i int, op map[string]interface{}) (*Audio, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }
	out := &Audio{Type: KindAudio}

	if raw, ok := op["volume"]; ok {
		if n, ok := asNumber(raw); ok {
			if n < 0 || n > 10 {
				return nil, newError(field("volume"), "volume must be between 0 and 10")
			}
			out.Volume = trimFloat(n)
		} else if s, ok := asString(raw); ok {
			if !volumeDBPattern.MatchString(s) {
				return nil, newError(field("volume"), "volume string must be in dB format (e.g. '-3dB')")
			}
			out.Volume = s
		} else {
			return nil, newError(field("volume"), "volume must be a number or dB string")
		}
	}

	if raw, ok := op["normalize"]; ok {
		out.Normalize = asBool(raw)
		if nt, ok := op["normalize_type"]; ok {
			s, ok := asString(nt)
			if !ok || (s != "loudnorm" && s != "dynaudnorm") {
				return nil, newError(field("normalize_type"), "invalid normalize type")
			}
			out.NormalizeType = s
		}
	}

	if raw, ok := op["sample_rate"]; ok {
		sr, ok := asInt(raw)
		if !ok || !allowedSampleRates[sr] {
			return nil, newError(field("sample_rate"), "invalid sample rate")
		}
		out.SampleRate = sr
	}

	if raw, ok := op["channels"]; ok {
		ch, ok := asInt(raw)
		if !ok || !allowedChannelCounts[ch] {
			return nil, newError(field("channels"), "channels must be 1, 2, 6, or 8")
		}
		out.Channels = ch
	}

	for _, f := range []struct {
		key string
		dst **float64
	}{{"fade_in", &out.FadeIn}, {"fade_out", &out.FadeOut}} {
		if raw, ok := op[f.key]; ok {
			d, ok := asNumber(raw)
			if !ok || d < 0 || d > maxTimeSeconds {
				return nil, newError(field(f.key), "%s must be a duration in seconds", f.key)
			}
			*f.dst = &d
		}
	}

	return out, nil
}

func (v *Validator) validateSubtitle(i int, op map[string]interface{}) (*Subtitle, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }

	path, ok := asString(op["path"])
	if !ok || path == "" {
		return nil, newError(field("path"), "subtitle requires 'path' field")
	}
	if err := checkDangerous(field("path"), path); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedSubtitleExtensions[ext] {
		return nil, newError(field("path"), "invalid subtitle format: %s", sanitizeForMessage(ext))
	}

	out := &Subtitle{Type: KindSubtitle, Path: path}

	if raw, ok := op["style"]; ok {
		style, ok := asString(raw)
		if !ok {
			return nil, newError(field("style"), "style must be a string")
		}
		if err := checkDangerous(field("style"), style); err != nil {
			return nil, err
		}
		out.Style = style
	}

	return out, nil
}

func (v *Validator) validateThumbnail(i int, op map[string]interface{}) (*Thumbnail, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }

	mode := "single"
	if raw, ok := op["mode"]; ok {
		s, ok := asString(raw)
		if !ok || (s != "single" && s != "multiple" && s != "best" && s != "sprite") {
			return nil, newError(field("mode"), "invalid thumbnail mode")
		}
		mode = s
	}

	out := &Thumbnail{Type: KindThumbnail, Mode: mode}

	if raw, ok := op["time"]; ok {
		t, err := validateTimeValue(field("time"), raw, true)
		if err != nil {
			return nil, err
		}
		out.Time = &t
	}

	if raw, ok := op["count"]; ok {
		count, ok := asInt(raw)
		if !ok || count < 1 || count > 1000 {
			return nil, newError(field("count"), "count must be an integer between 1 and 1000")
		}
		out.Count = count
	}

	if raw, ok := op["interval"]; ok {
		interval, ok := asNumber(raw)
		if !ok || interval <= 0 {
			return nil, newError(field("interval"), "interval must be a positive number")
		}
		out.Interval = interval
	}

	if raw, ok := op["width"]; ok {
		width, ok := asInt(raw)
		if !ok || width < 16 || width > maxWidth {
			return nil, newError(field("width"), "width must be an integer between 16 and %d", maxWidth)
		}
		out.Width = width
	}

	if raw, ok := op["height"]; ok {
		height, ok := asInt(raw)
		if !ok || height < 16 || height > maxHeight {
			return nil, newError(field("height"), "height must be an integer between 16 and %d", maxHeight)
		}
		out.Height = height
	}

	if raw, ok := op["quality"]; ok {
		quality, ok := asInt(raw)
		if !ok || quality < 2 || quality > 31 {
			return nil, newError(field("quality"), "quality must be an integer between 2 and 31")
		}
		out.Quality = quality
	}

	if mode == "sprite" {
		if raw, ok := op["cols"]; ok {
			cols, ok := asInt(raw)
			if !ok || cols < 1 || cols > 20 {
				return nil, newError(field("cols"), "cols must be an integer between 1 and 20")
			}
			out.Cols = cols
		}
		if raw, ok := op["rows"]; ok {
			rows, ok := asInt(raw)
			if !ok || rows < 1 || rows > 20 {
				return nil, newError(field("rows"), "rows must be an integer between 1 and 20")
			}
			out.Rows = rows
		}
		if raw, ok := op["tile_width"]; ok {
			if n, ok := asInt(raw); ok {
				out.TileWidth = n
			}
		}
		if raw, ok := op["tile_height"]; ok {
			if n, ok := asInt(raw); ok {
				out.TileHeight = n
			}
		}
	}

	if mode == "best" {
		if raw, ok := op["sample_frames"]; ok {
			sample, ok := asInt(raw)
			if !ok || sample < 10 || sample > 1000 {
				return nil, newError(field("sample_frames"), "sample frames must be an integer between 10 and 1000")
			}
			out.SampleFrames = sample
		}
	}

	return out, nil
}

func (v *Validator) validateConcat(i int, op map[string]interface{}) (*Concat, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }

	rawInputs, ok := op["inputs"].([]interface{})
	if !ok {
		return nil, newError(field("inputs"), "concat requires 'inputs' field with list of files")
	}
	if len(rawInputs) < 2 {
		return nil, newError(field("inputs"), "concat requires at least 2 input files")
	}
	if len(rawInputs) > maxConcatInputs {
		return nil, newError(field("inputs"), "too many inputs for concat (max %d)", maxConcatInputs)
	}

	inputs := make([]string, 0, len(rawInputs))
	for j, raw := range rawInputs {
		input, ok := asString(raw)
		if !ok || input == "" {
			return nil, newError(fmt.Sprintf("%s[%d]", field("inputs"), j), "concat input must be a path string")
		}
		if err := checkDangerous(fmt.Sprintf("%s[%d]", field("inputs"), j), input); err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}

	mode := "demuxer"
	if raw, ok := op["mode"]; ok {
		s, ok := asString(raw)
		if !ok || (s != "demuxer" && s != "filter") {
			return nil, newError(field("mode"), "concat mode must be 'demuxer' or 'filter'")
		}
		mode = s
	}

	return &Concat{Type: KindConcat, Inputs: inputs, Mode: mode}, nil
}

func (v *Validator) validateStream(i int, op map[string]interface{}) (*Stream, error) {
	field := func(name string) string { return fmt.Sprintf("operations[%d].%s", i, name) }

	format := "hls"
	if raw, ok := op["format"]; ok {
		s, ok := asString(raw)
		if !ok {
			return nil, newError(field("format"), "format must be a string")
		}
		s = strings.ToLower(s)
		if s != "hls" && s != "dash" {
			return nil, newError(field("format"), "unknown streaming format: %s", sanitizeForMessage(s))
		}
		format = s
	}

	out := &Stream{Type: KindStream, Format: format, SegmentDuration: 6}

	if raw, ok := op["segment_duration"]; ok {
		d, ok := asInt(raw)
		if !ok || d < 1 || d > 60 {
			return nil, newError(field("segment_duration"), "segment duration must be between 1 and 60 seconds")
		}
		out.SegmentDuration = d
	}

	if rawVariants, ok := op["variants"].([]interface{}); ok {
		if len(rawVariants) > maxStreamVariants {
			return nil, newError(field("variants"), "too many streaming variants: %d (max %d)", len(rawVariants), maxStreamVariants)
		}
		for j, rawVariant := range rawVariants {
			variantMap, ok := rawVariant.(map[string]interface{})
			if !ok {
				return nil, newError(fmt.Sprintf("%s[%d]", field("variants"), j), "variant must be an object")
			}
			variant := StreamVariant{}
			if raw, ok := variantMap["name"]; ok {
				if s, ok := asString(raw); ok {
					if err := checkDangerous(fmt.Sprintf("%s[%d].name", field("variants"), j), s); err != nil {
						return nil, err
					}
					variant.Name = s
				}
			}
			if raw, ok := variantMap["width"]; ok {
				if n, ok := asInt(raw); ok {
					variant.Width = n
				}
			}
			if raw, ok := variantMap["height"]; ok {
				if n, ok := asInt(raw); ok {
					variant.Height = n
				}
			}
			if raw, ok := variantMap["bitrate"]; ok {
				normalized, err := validateBitrate(fmt.Sprintf("%s[%d].bitrate", field("variants"), j), raw)
				if err != nil {
					return nil, err
				}
				variant.Bitrate = normalized
			}
			if raw, ok := variantMap["audio_rate"]; ok {
				if s, ok := asString(raw); ok && bitratePattern.MatchString(s) {
					variant.AudioRate = s
				}
			}
			if raw, ok := variantMap["framerate"]; ok {
				if n, ok := asInt(raw); ok {
					variant.Framerate = n
				}
			}
			out.Variants = append(out.Variants, variant)
		}
	}

	return out, nil
}

// checkCodecContainerCompatibility rejects transcodes whose codecs the
// target container cannot carry.
func (v *Validator) checkCodecContainerCompatibility(ops []Operation) error {
	for _, op := range ops {
		tc, ok := op.(*Transcode)
		if !ok || tc.Format == "" {
			continue
		}

		compat, known := codecContainerCompatibility[tc.Format]
		if !known {
			continue
		}

		if tc.VideoCodec != "" && !compat.video[tc.VideoCodec] {
			return newError("video_codec", "video codec '%s' incompatible with container '%s'",
				tc.VideoCodec, tc.Format)
		}
		if tc.AudioCodec != "" && !compat.audio[tc.AudioCodec] {
			return newError("audio_codec", "audio codec '%s' incompatible with container '%s'",
				tc.AudioCodec, tc.Format)
		}
	}
	return nil
}

// checkResourceLimits applies aggregate resource ceilings and logs
// warnings for hungry but permitted settings.
func (v *Validator) checkResourceLimits(ops []Operation) error {
	for _, op := range ops {
		switch o := op.(type) {
		case *Transcode:
			if o.FPS > maxFPS {
				return newError("fps", "frame rate too high: %g (max %d)", o.FPS, maxFPS)
			}
			if o.CRF != nil && *o.CRF < losslessCRF && o.AllowLossless {
				v.log.Warn("lossless encoding requested", map[string]interface{}{"crf": *o.CRF})
			}
		case *Stream:
			if len(o.Variants) > maxStreamVariants {
				return newError("variants", "too many streaming variants: %d (max %d)", len(o.Variants), maxStreamVariants)
			}
		case *Filter:
			if o.Name == "denoise" || o.Name == "stabilize" {
				v.log.Warn("cpu-intensive filter requested", map[string]interface{}{"filter": o.Name})
			}
		}
	}
	return nil
}

// validateBitrate accepts "<int>[k|K|m|M]" or a plain number and
// returns the normalized string, enforcing the 100 kbps to 50 Mbps
// window.
func validateBitrate(field string, raw interface{}) (string, error) {
	if s, ok := asString(raw); ok {
		if !bitratePattern.MatchString(s) {
			return "", newError(field, "invalid bitrate format: %s", sanitizeForMessage(s))
		}

		var value int64
		var base int64
		lower := strings.ToLower(s)
		switch {
		case strings.HasSuffix(lower, "k"):
			if _, err := fmt.Sscanf(lower[:len(lower)-1], "%d", &base); err != nil {
				return "", newError(field, "invalid bitrate format: %s", sanitizeForMessage(s))
			}
			value = base * 1000
		case strings.HasSuffix(lower, "m"):
			if _, err := fmt.Sscanf(lower[:len(lower)-1], "%d", &base); err != nil {
				return "", newError(field, "invalid bitrate format: %s", sanitizeForMessage(s))
			}
			value = base * 1_000_000
		default:
			if _, err := fmt.Sscanf(lower, "%d", &value); err != nil {
				return "", newError(field, "invalid bitrate format: %s", sanitizeForMessage(s))
			}
		}

		if value < minBitrate || value > maxBitrate {
			return "", newError(field, "bitrate out of reasonable range (100k-50M)")
		}
		return s, nil
	}

	if n, ok := asNumber(raw); ok {
		value := int64(n)
		if value < minBitrate || value > maxBitrate {
			return "", newError(field, "bitrate out of reasonable range (100000-50000000)")
		}
		return fmt.Sprintf("%d", value), nil
	}

	return "", newError(field, "bitrate must be a string or number")
}

// validateResolution bounds width and height and the total pixel
// count. Zero means the axis was not specified.
func validateResolution(fieldPrefix string, rawWidth, rawHeight interface{}) (int, int, error) {
	width, height := 0, 0

	if rawWidth != nil {
		w, ok := asInt(rawWidth)
		if !ok {
			return 0, 0, newError(fieldPrefix+"width", "width must be a number")
		}
		if w < minWidth || w > maxWidth {
			return 0, 0, newError(fieldPrefix+"width", "width out of valid range (%d-%d)", minWidth, maxWidth)
		}
		if w%2 != 0 {
			return 0, 0, newError(fieldPrefix+"width", "width must be even number")
		}
		width = w
	}

	if rawHeight != nil {
		h, ok := asInt(rawHeight)
		if !ok {
			return 0, 0, newError(fieldPrefix+"height", "height must be a number")
		}
		if h < minHeight || h > maxHeight {
			return 0, 0, newError(fieldPrefix+"height", "height out of valid range (%d-%d)", minHeight, maxHeight)
		}
		if h%2 != 0 {
			return 0, 0, newError(fieldPrefix+"height", "height must be even number")
		}
		height = h
	}

	if width > 0 && height > 0 && width*height > maxPixels {
		return 0, 0, newError(fieldPrefix+"width", "resolution %dx%d exceeds maximum pixel count", width, height)
	}

	return width, height, nil
}

// validateTimeValue accepts seconds or "[[HH:]MM:]SS[.mmm]" and
// returns canonical seconds.
func validateTimeValue(field string, raw interface{}, zeroOK bool) (float64, error) {
	if n, ok := asNumber(raw); ok {
		if n < 0 || n > maxTimeSeconds {
			return 0, newError(field, "time out of valid range (0-%d seconds)", maxTimeSeconds)
		}
		if !zeroOK && n <= 0 {
			return 0, newError(field, "must be positive")
		}
		return n, nil
	}

	if s, ok := asString(raw); ok {
		if len(s) > 20 {
			return 0, newError(field, "time string too long")
		}
		seconds, err := ParseTimeString(s)
		if err != nil {
			return 0, newError(field, "%v", err)
		}
		if !zeroOK && seconds <= 0 {
			return 0, newError(field, "must be positive")
		}
		return seconds, nil
	}

	return 0, newError(field, "must be a number or time string")
}

// ParseTimeString parses "[[HH:]MM:]SS[.mmm]" into seconds.
func ParseTimeString(s string) (float64, error) {
	if !timePattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time format: %s", sanitizeForMessage(s))
	}

	parts := strings.Split(s, ":")
	var seconds float64
	switch len(parts) {
	case 1:
		fmt.Sscanf(parts[0], "%g", &seconds)
	case 2:
		var m, sec float64
		fmt.Sscanf(parts[0], "%g", &m)
		fmt.Sscanf(parts[1], "%g", &sec)
		seconds = m*60 + sec
	case 3:
		var h, m, sec float64
		fmt.Sscanf(parts[0], "%g", &h)
		fmt.Sscanf(parts[1], "%g", &m)
		fmt.Sscanf(parts[2], "%g", &sec)
		seconds = h*3600 + m*60 + sec
	default:
		return 0, fmt.Errorf("invalid time format: %s", sanitizeForMessage(s))
	}

	if seconds < 0 || seconds > maxTimeSeconds {
		return 0, fmt.Errorf("time out of reasonable range: %g", seconds)
	}
	return seconds, nil
}

// firstOf returns the first present key among names.
func firstOf(m map[string]interface{}, names ...string) (interface{}, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v interface{}) (int, bool) {
	n, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	if n != math.Trunc(n) {
		return 0, false
	}
	return int(n), true
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func trimFloat(n float64) string {
	if n == math.Trunc(n) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
