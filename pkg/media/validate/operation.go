package validate

import (
	"encoding/json"
	"fmt"
)

// Operation kinds. The set is closed; the validator rejects anything
// else at the submit boundary.
const (
	KindTranscode = "transcode"
	KindTrim      = "trim"
	KindWatermark = "watermark"
	KindFilter    = "filter"
	KindScale     = "scale"
	KindCrop      = "crop"
	KindRotate    = "rotate"
	KindFlip      = "flip"
	KindAudio     = "audio"
	KindSubtitle  = "subtitle"
	KindThumbnail = "thumbnail"
	KindConcat    = "concat"
	KindStream    = "stream"
)

// Operation is the canonical, validated form of a single processing
// step. Concrete types are one struct per kind; the command builder
// switches over them exhaustively.
type Operation interface {
	Kind() string
}

// AutoDimension marks a scale axis the tool should derive from the
// aspect ratio.
const AutoDimension = -1

// Transcode selects codecs, rate control, and encoder tuning.
type Transcode struct {
	Type                 string  `json:"type"`
	VideoCodec           string  `json:"video_codec,omitempty"`
	AudioCodec           string  `json:"audio_codec,omitempty"`
	Preset               string  `json:"preset,omitempty"`
	Profile              string  `json:"profile,omitempty"`
	PixelFormat          string  `json:"pixel_format,omitempty"`
	HardwareAcceleration string  `json:"hardware_acceleration,omitempty"`
	VideoBitrate         string  `json:"video_bitrate,omitempty"`
	AudioBitrate         string  `json:"audio_bitrate,omitempty"`
	MaxBitrate           string  `json:"max_bitrate,omitempty"`
	BufferSize           string  `json:"buffer_size,omitempty"`
	Width                int     `json:"width,omitempty"`
	Height               int     `json:"height,omitempty"`
	FPS                  float64 `json:"fps,omitempty"`
	CRF                  *int    `json:"crf,omitempty"`
	AllowLossless        bool    `json:"allow_lossless,omitempty"`
	GOPSize              int     `json:"gop_size,omitempty"`
	BFrames              *int    `json:"b_frames,omitempty"`
	RefFrames            int     `json:"ref_frames,omitempty"`
	RCLookahead          *int    `json:"rc_lookahead,omitempty"`
	SCThreshold          *int    `json:"sc_threshold,omitempty"`
	TwoPass              bool    `json:"two_pass,omitempty"`
	Tune                 string  `json:"tune,omitempty"`
	Level                string  `json:"level,omitempty"`
	Encoder              string  `json:"encoder,omitempty"`
	Format               string  `json:"format,omitempty"`
	AudioSampleRate      int     `json:"audio_sample_rate,omitempty"`
	AudioChannels        int     `json:"audio_channels,omitempty"`
}

func (*Transcode) Kind() string { return KindTranscode }

// Trim cuts the output to a time window. Times are canonical seconds.
type Trim struct {
	Type     string   `json:"type"`
	Start    *float64 `json:"start,omitempty"`
	End      *float64 `json:"end,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

func (*Trim) Kind() string { return KindTrim }

// Watermark overlays a second input image.
type Watermark struct {
	Type     string  `json:"type"`
	Image    string  `json:"image"`
	Position string  `json:"position"`
	Opacity  float64 `json:"opacity"`
	Scale    float64 `json:"scale"`
}

func (*Watermark) Kind() string { return KindWatermark }

// Filter applies a named video filter or direct picture adjustments.
type Filter struct {
	Type       string                 `json:"type"`
	Name       string                 `json:"name,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Brightness *float64               `json:"brightness,omitempty"`
	Contrast   *float64               `json:"contrast,omitempty"`
	Saturation *float64               `json:"saturation,omitempty"`
	Hue        *float64               `json:"hue,omitempty"`
	Gamma      *float64               `json:"gamma,omitempty"`
	Speed      *float64               `json:"speed,omitempty"`
}

func (*Filter) Kind() string { return KindFilter }

// Scale resizes the video. AutoDimension on an axis preserves aspect.
type Scale struct {
	Type      string `json:"type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

func (*Scale) Kind() string { return KindScale }

// Crop cuts a rectangle. Fields may be numbers or tool expressions
// such as "iw/2".
type Crop struct {
	Type   string `json:"type"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
	X      string `json:"x,omitempty"`
	Y      string `json:"y,omitempty"`
}

func (*Crop) Kind() string { return KindCrop }

// Rotate turns the picture by a normalized angle in (-180, 180].
type Rotate struct {
	Type  string  `json:"type"`
	Angle float64 `json:"angle"`
}

func (*Rotate) Kind() string { return KindRotate }

// Flip mirrors the picture.
type Flip struct {
	Type      string `json:"type"`
	Direction string `json:"direction"`
}

func (*Flip) Kind() string { return KindFlip }

// Audio adjusts the audio track.
type Audio struct {
	Type          string   `json:"type"`
	Volume        string   `json:"volume,omitempty"` // factor or "NdB"
	Normalize     bool     `json:"normalize,omitempty"`
	NormalizeType string   `json:"normalize_type,omitempty"`
	SampleRate    int      `json:"sample_rate,omitempty"`
	Channels      int      `json:"channels,omitempty"`
	FadeIn        *float64 `json:"fade_in,omitempty"`
	FadeOut       *float64 `json:"fade_out,omitempty"`
}

func (*Audio) Kind() string { return KindAudio }

// Subtitle burns in or attaches a subtitle file.
type Subtitle struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Style string `json:"style,omitempty"`
}

func (*Subtitle) Kind() string { return KindSubtitle }

// Thumbnail extracts one or more stills.
type Thumbnail struct {
	Type         string   `json:"type"`
	Mode         string   `json:"mode"`
	Time         *float64 `json:"time,omitempty"`
	Count        int      `json:"count,omitempty"`
	Interval     float64  `json:"interval,omitempty"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
	Quality      int      `json:"quality,omitempty"`
	Cols         int      `json:"cols,omitempty"`
	Rows         int      `json:"rows,omitempty"`
	TileWidth    int      `json:"tile_width,omitempty"`
	TileHeight   int      `json:"tile_height,omitempty"`
	SampleFrames int      `json:"sample_frames,omitempty"`
}

func (*Thumbnail) Kind() string { return KindThumbnail }

// Concat joins multiple inputs. Mutually exclusive with every other
// operation in the same job.
type Concat struct {
	Type   string   `json:"type"`
	Inputs []string `json:"inputs"`
	Mode   string   `json:"mode"`
}

func (*Concat) Kind() string { return KindConcat }

// StreamVariant is one rendition of an adaptive stream.
type StreamVariant struct {
	Name      string `json:"name,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Bitrate   string `json:"bitrate,omitempty"`
	AudioRate string `json:"audio_rate,omitempty"`
	Framerate int    `json:"framerate,omitempty"`
}

// Stream produces an adaptive streaming package.
type Stream struct {
	Type            string          `json:"type"`
	Format          string          `json:"format"`
	Variants        []StreamVariant `json:"variants"`
	SegmentDuration int             `json:"segment_duration"`
}

func (*Stream) Kind() string { return KindStream }

// Options carries output-global settings validated alongside the
// operation list.
type Options struct {
	Format   string            `json:"format,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Threads  int               `json:"threads,omitempty"`
}

// EncodeOperations marshals a canonical operation list to JSON for
// persistence.
func EncodeOperations(ops []Operation) ([]byte, error) {
	return json.Marshal(ops)
}

// DecodeOperations unmarshals a persisted canonical operation list.
// It trusts the stored form: values were validated before persist.
func DecodeOperations(data []byte) ([]Operation, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode operations: %w", err)
	}

	ops := make([]Operation, 0, len(raw))
	for i, item := range raw {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}

		var op Operation
		switch head.Type {
		case KindTranscode:
			op = &Transcode{}
		case KindTrim:
			op = &Trim{}
		case KindWatermark:
			op = &Watermark{}
		case KindFilter:
			op = &Filter{}
		case KindScale:
			op = &Scale{}
		case KindCrop:
			op = &Crop{}
		case KindRotate:
			op = &Rotate{}
		case KindFlip:
			op = &Flip{}
		case KindAudio:
			op = &Audio{}
		case KindSubtitle:
			op = &Subtitle{}
		case KindThumbnail:
			op = &Thumbnail{}
		case KindConcat:
			op = &Concat{}
		case KindStream:
			op = &Stream{}
		default:
			return nil, fmt.Errorf("operation %d: unknown type %q", i, head.Type)
		}

		if err := json.Unmarshal(item, op); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}

	return ops, nil
}
