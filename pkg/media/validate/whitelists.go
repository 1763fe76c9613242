package validate

// Closed parameter sets. Everything the external tool accepts that is
// not listed here is rejected at the submit boundary.

var allowedVideoCodecs = map[string]bool{
	"h264": true, "h265": true, "hevc": true, "vp8": true, "vp9": true, "av1": true,
	"libx264": true, "libx265": true, "libvpx": true, "libvpx-vp9": true,
	"libaom-av1": true, "libsvtav1": true,
	"prores": true, "prores_ks": true, "dnxhd": true, "dnxhr": true, "copy": true,
}

var allowedAudioCodecs = map[string]bool{
	"aac": true, "mp3": true, "opus": true, "vorbis": true, "ac3": true, "eac3": true,
	"libfdk_aac": true, "libopus": true, "libvorbis": true, "libmp3lame": true,
	"flac": true, "pcm_s16le": true, "pcm_s24le": true, "pcm_s32le": true,
	"pcm_f32le": true, "copy": true,
}

var allowedPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true,
	"veryslow": true, "placebo": true,
}

var allowedProfiles = map[string]bool{
	"baseline": true, "main": true, "high": true,
	"high10": true, "high422": true, "high444": true,
}

var allowedPixelFormats = map[string]bool{
	"yuv420p": true, "yuv422p": true, "yuv444p": true,
	"yuv420p10le": true, "yuv422p10le": true, "yuv444p10le": true,
	"rgb24": true, "rgba": true, "nv12": true, "p010le": true,
}

var allowedHWAccel = map[string]bool{
	"auto": true, "none": true, "nvenc": true, "qsv": true,
	"vaapi": true, "videotoolbox": true, "amf": true,
}

var allowedTunes = map[string]bool{
	"film": true, "animation": true, "grain": true, "stillimage": true,
	"fastdecode": true, "zerolatency": true, "psnr": true, "ssim": true,
}

var allowedLevels = map[string]bool{
	"1": true, "1.1": true, "1.2": true, "1.3": true,
	"2": true, "2.1": true, "2.2": true,
	"3": true, "3.1": true, "3.2": true,
	"4": true, "4.1": true, "4.2": true,
	"5": true, "5.1": true, "5.2": true,
	"6": true, "6.1": true, "6.2": true,
}

var allowedEncoders = map[string]bool{
	"default": true, "svt": true, "aom": true, "rav1e": true,
}

var allowedFilters = map[string]bool{
	"denoise": true, "deinterlace": true, "stabilize": true, "sharpen": true,
	"blur": true, "brightness": true, "contrast": true, "saturation": true,
	"hue": true, "eq": true, "gamma": true,
	"fade_in": true, "fade_out": true, "speed": true,
}

var allowedScaleAlgorithms = map[string]bool{
	"lanczos": true, "bicubic": true, "bilinear": true,
	"neighbor": true, "area": true, "fast_bilinear": true,
}

var allowedWatermarkPositions = map[string]bool{
	"top-left": true, "top-right": true, "bottom-left": true,
	"bottom-right": true, "center": true,
}

var allowedSampleRates = map[int]bool{
	8000: true, 11025: true, 16000: true, 22050: true,
	32000: true, 44100: true, 48000: true, 96000: true,
}

var allowedChannelCounts = map[int]bool{1: true, 2: true, 6: true, 8: true}

var allowedSubtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
}

var allowedOutputFormats = map[string]bool{
	"mp4": true, "mkv": true, "webm": true, "avi": true, "mov": true,
	"ts": true, "flv": true, "gif": true,
	"mp3": true, "aac": true, "wav": true, "flac": true, "ogg": true, "opus": true,
	"jpg": true, "jpeg": true, "png": true, "webp": true,
}

// allowedOperationKeys lists every parameter each operation type
// accepts, aliases included. A request carrying any other key is
// rejected rather than silently ignored, so typos surface at submit
// time instead of producing a default-parameter job.
var allowedOperationKeys = map[string]map[string]bool{
	KindTranscode: {
		"type": true, "video_codec": true, "audio_codec": true, "preset": true,
		"profile": true, "pixel_format": true, "pix_fmt": true,
		"hardware_acceleration": true, "hw_accel": true,
		"video_bitrate": true, "audio_bitrate": true, "max_bitrate": true, "buffer_size": true,
		"width": true, "height": true, "fps": true, "crf": true, "allow_lossless": true,
		"gop_size": true, "keyint": true, "b_frames": true, "bframes": true,
		"ref_frames": true, "refs": true, "rc_lookahead": true, "sc_threshold": true,
		"two_pass": true, "tune": true, "level": true, "encoder": true, "format": true,
		"audio_sample_rate": true, "audio_channels": true,
	},
	KindTrim:      {"type": true, "start": true, "duration": true, "end": true},
	KindWatermark: {"type": true, "image": true, "position": true, "opacity": true, "scale": true},
	KindFilter: {
		"type": true, "name": true, "params": true, "brightness": true, "contrast": true,
		"saturation": true, "hue": true, "gamma": true, "speed": true,
	},
	KindScale:  {"type": true, "width": true, "height": true, "algorithm": true},
	KindCrop:   {"type": true, "width": true, "height": true, "x": true, "y": true},
	KindRotate: {"type": true, "angle": true},
	KindFlip:   {"type": true, "direction": true},
	KindAudio: {
		"type": true, "volume": true, "normalize": true, "normalize_type": true,
		"sample_rate": true, "channels": true, "fade_in": true, "fade_out": true,
	},
	KindSubtitle: {"type": true, "path": true, "style": true},
	KindThumbnail: {
		"type": true, "mode": true, "time": true, "count": true, "interval": true,
		"width": true, "height": true, "quality": true, "cols": true, "rows": true,
		"tile_width": true, "tile_height": true, "sample_frames": true,
	},
	KindConcat: {"type": true, "inputs": true, "mode": true},
	KindStream: {"type": true, "format": true, "segment_duration": true, "variants": true},
}

// codecContainerCompatibility lists the codecs each container accepts.
// A transcode targeting a listed container with an unlisted codec is
// rejected.
var codecContainerCompatibility = map[string]struct {
	video map[string]bool
	audio map[string]bool
}{
	"mp4": {
		video: map[string]bool{"h264": true, "h265": true, "hevc": true, "libx264": true, "libx265": true},
		audio: map[string]bool{"aac": true, "mp3": true},
	},
	"mkv": {
		video: map[string]bool{"h264": true, "h265": true, "hevc": true, "vp8": true, "vp9": true, "av1": true},
		audio: map[string]bool{"aac": true, "ac3": true, "opus": true, "flac": true},
	},
	"webm": {
		video: map[string]bool{"vp8": true, "vp9": true},
		audio: map[string]bool{"opus": true, "vorbis": true},
	},
	"avi": {
		video: map[string]bool{"h264": true, "libx264": true},
		audio: map[string]bool{"mp3": true, "ac3": true},
	},
	"mov": {
		video: map[string]bool{"h264": true, "h265": true, "libx264": true},
		audio: map[string]bool{"aac": true},
	},
}

// Resource bounds.
const (
	minBitrate        = 100_000    // 100 kbps
	maxBitrate        = 50_000_000 // 50 Mbps
	minWidth          = 32
	maxWidth          = 7680
	minHeight         = 32
	maxHeight         = 4320
	maxPixels         = maxWidth * maxHeight // 8K
	warnPixels        = 3840 * 2160          // 4K
	maxFPS            = 120
	maxCRF            = 51
	losslessCRF       = 5 // below this, allow_lossless is required
	maxTimeSeconds    = 86400
	maxConcatInputs   = 100
	maxStreamVariants = 10
	maxPathLength     = 4096
	maxMetadataLength = 255
)

// DefaultMaxOperations bounds the operations list per job.
const DefaultMaxOperations = 50
