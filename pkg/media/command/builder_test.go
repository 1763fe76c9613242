package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

func buildArgs(t *testing.T, req *Request) []string {
	t.Helper()
	inv, err := NewBuilder(Caps{}).Build(req)
	require.NoError(t, err)
	return inv.Args
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}

func flagValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	i := indexOf(args, flag)
	require.GreaterOrEqual(t, i, 0, "flag %s not present in %v", flag, args)
	require.Less(t, i+1, len(args))
	return args[i+1]
}

func TestBuildStartsWithOverwrite(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "/tmp/in.mp4",
		OutputPath: "/tmp/out.mp4",
	})

	assert.Equal(t, "ffmpeg", args[0])
	assert.Equal(t, "-y", args[1])
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildDeterministic(t *testing.T) {
	crf := 23
	req := &Request{
		InputPath:  "/tmp/in.mp4",
		OutputPath: "/tmp/out.mp4",
		Operations: []validate.Operation{
			&validate.Transcode{Type: "transcode", VideoCodec: "libx264", CRF: &crf, Preset: "fast"},
			&validate.Scale{Type: "scale", Width: 1280, Height: 720},
		},
		Options: &validate.Options{Metadata: map[string]string{"title": "a", "artist": "b"}},
	}

	first := buildArgs(t, req)
	second := buildArgs(t, req)
	assert.Equal(t, first, second)
}

func TestBuildTranscodeFlagOrder(t *testing.T) {
	crf := 20
	args := buildArgs(t, &Request{
		InputPath:  "/tmp/in.mp4",
		OutputPath: "/tmp/out.mp4",
		Operations: []validate.Operation{&validate.Transcode{
			Type:         "transcode",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			VideoBitrate: "5000k",
			MaxBitrate:   "6000k",
			BufferSize:   "12000k",
			CRF:          &crf,
			Preset:       "slow",
			Profile:      "high",
			Width:        1920,
			Height:       1080,
		}},
	})

	assert.Equal(t, "libx264", flagValue(t, args, "-c:v"))
	assert.Equal(t, "aac", flagValue(t, args, "-c:a"))
	assert.Equal(t, "5000k", flagValue(t, args, "-b:v"))
	assert.Equal(t, "6000k", flagValue(t, args, "-maxrate"))
	assert.Equal(t, "12000k", flagValue(t, args, "-bufsize"))
	assert.Equal(t, "1920x1080", flagValue(t, args, "-s"))
	assert.Equal(t, "20", flagValue(t, args, "-crf"))
	assert.Equal(t, "slow", flagValue(t, args, "-preset"))
	assert.Less(t, indexOf(args, "-c:v"), indexOf(args, "-b:v"))
	assert.Less(t, indexOf(args, "-b:v"), indexOf(args, "-crf"))
}

func TestBuildFaststartOnlyForMP4Family(t *testing.T) {
	mp4 := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Transcode{Type: "transcode", VideoCodec: "libx264", Format: "mp4"}},
	})
	assert.Contains(t, mp4, "+faststart")

	webm := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.webm",
		Operations: []validate.Operation{&validate.Transcode{Type: "transcode", VideoCodec: "vp9", Format: "webm"}},
	})
	assert.NotContains(t, webm, "+faststart")
}

func TestBuildHardwareEncoderSelection(t *testing.T) {
	inv, err := NewBuilder(Caps{NVENC: true}).Build(&Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Transcode{Type: "transcode", VideoCodec: "h264"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "h264_nvenc", flagValue(t, inv.Args, "-c:v"))
	assert.Equal(t, "cuda", flagValue(t, inv.Args, "-hwaccel"))
}

func TestBuildHardwareDisabled(t *testing.T) {
	inv, err := NewBuilder(Caps{NVENC: true}).Build(&Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Transcode{
			Type: "transcode", VideoCodec: "h264", HardwareAcceleration: "none",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "h264", flagValue(t, inv.Args, "-c:v"))
}

func TestBuildAV1EncoderSelector(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mkv",
		Operations: []validate.Operation{&validate.Transcode{
			Type: "transcode", VideoCodec: "av1", Encoder: "svt", Format: "mkv",
		}},
	})
	assert.Equal(t, "libsvtav1", flagValue(t, args, "-c:v"))
}

func TestBuildTrimSeeksBeforeInput(t *testing.T) {
	start, duration := 90.0, 30.0
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Trim{Type: "trim", Start: &start, Duration: &duration}},
	})

	assert.Less(t, indexOf(args, "-ss"), indexOf(args, "-i"))
	assert.Equal(t, "90", flagValue(t, args, "-ss"))
	assert.Equal(t, "30", flagValue(t, args, "-t"))
}

func TestBuildVideoFiltersJoined(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{
			&validate.Scale{Type: "scale", Width: 1280, Height: validate.AutoDimension, Algorithm: "bicubic"},
			&validate.Rotate{Type: "rotate", Angle: 90},
			&validate.Flip{Type: "flip", Direction: "vertical"},
		},
	})

	vf := flagValue(t, args, "-vf")
	assert.Equal(t, "scale=1280:-1:flags=bicubic,transpose=1,vflip", vf)
}

func TestBuildRotateArbitraryAngle(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Rotate{Type: "rotate", Angle: 45}},
	})
	assert.Equal(t, "rotate=45*PI/180", flagValue(t, args, "-vf"))
}

func TestBuildWatermarkGraph(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Watermark{
			Type: "watermark", Image: "/tmp/logo.png",
			Position: "top-left", Opacity: 0.5, Scale: 0.2,
		}},
	})

	// Image is the second input.
	first := indexOf(args, "-i")
	rest := indexOf(args[first+1:], "-i")
	require.GreaterOrEqual(t, rest, 0)
	assert.Equal(t, "/tmp/logo.png", args[first+1+rest+1])

	graph := flagValue(t, args, "-filter_complex")
	assert.Contains(t, graph, "scale=iw*0.2:-1")
	assert.Contains(t, graph, "colorchannelmixer=aa=0.5")
	assert.Contains(t, graph, "overlay=10:10")
	assert.Equal(t, "[v]", flagValue(t, args, "-map"))
}

func TestBuildAudioFilterChain(t *testing.T) {
	fadeIn := 2.0
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Audio{
			Type: "audio", Volume: "1.5", Normalize: true,
			SampleRate: 48000, Channels: 2, FadeIn: &fadeIn,
		}},
	})

	af := flagValue(t, args, "-af")
	assert.Equal(t, "volume=1.5,loudnorm=I=-24:TP=-2:LRA=7,aresample=48000,pan=stereo|c0=c0|c1=c1,afade=t=in:st=0:d=2", af)
}

func TestAtempoChain(t *testing.T) {
	assert.Equal(t, []string{"atempo=1.5000"}, atempoChain(1.5))
	assert.Equal(t, []string{"atempo=2.0", "atempo=2.0000"}, atempoChain(4))
	assert.Equal(t, []string{"atempo=0.5", "atempo=0.5000"}, atempoChain(0.25))
}

func TestBuildThumbnailModes(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		ts := 12.5
		args := buildArgs(t, &Request{
			InputPath:  "in.mp4",
			OutputPath: "thumb.jpg",
			Operations: []validate.Operation{&validate.Thumbnail{Type: "thumbnail", Mode: "single", Time: &ts, Quality: 3}},
		})
		assert.Equal(t, "12.5", flagValue(t, args, "-ss"))
		assert.Equal(t, "1", flagValue(t, args, "-frames:v"))
		assert.Equal(t, "3", flagValue(t, args, "-q:v"))
	})

	t.Run("sprite", func(t *testing.T) {
		args := buildArgs(t, &Request{
			InputPath:  "in.mp4",
			OutputPath: "sprite.jpg",
			Operations: []validate.Operation{&validate.Thumbnail{
				Type: "thumbnail", Mode: "sprite", Interval: 10,
				Cols: 4, Rows: 3, TileWidth: 160, TileHeight: 90,
			}},
		})
		vf := flagValue(t, args, "-vf")
		assert.Equal(t, "fps=1/10,scale=160:90,tile=4x3", vf)
	})

	t.Run("best", func(t *testing.T) {
		args := buildArgs(t, &Request{
			InputPath:  "in.mp4",
			OutputPath: "best.jpg",
			Operations: []validate.Operation{&validate.Thumbnail{Type: "thumbnail", Mode: "best", Count: 3, SampleFrames: 200}},
		})
		assert.Equal(t, "thumbnail=n=200", flagValue(t, args, "-vf"))
		assert.Equal(t, "3", flagValue(t, args, "-frames:v"))
	})
}

func TestBuildConcatDemuxer(t *testing.T) {
	inv, err := NewBuilder(Caps{}).Build(&Request{
		InputPath:      "a.mp4",
		OutputPath:     "out.mp4",
		ConcatListPath: "/tmp/list.txt",
		Operations: []validate.Operation{&validate.Concat{
			Type: "concat", Mode: "demuxer", Inputs: []string{"/tmp/a.mp4", "/tmp/b.mp4"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "concat", flagValue(t, inv.Args, "-f"))
	assert.Equal(t, "/tmp/list.txt", flagValue(t, inv.Args, "-i"))
	assert.Equal(t, "copy", flagValue(t, inv.Args, "-c"))
	assert.Equal(t, "file \"/tmp/a.mp4\"\nfile \"/tmp/b.mp4\"\n", inv.ConcatList)
}

func TestBuildConcatFilter(t *testing.T) {
	inv, err := NewBuilder(Caps{}).Build(&Request{
		InputPath:  "a.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Concat{
			Type: "concat", Mode: "filter", Inputs: []string{"/tmp/a.mp4", "/tmp/b.mp4", "/tmp/c.mp4"},
		}},
	})
	require.NoError(t, err)

	graph := flagValue(t, inv.Args, "-filter_complex")
	assert.Equal(t, "[0:v][0:a][1:v][1:a][2:v][2:a]concat=n=3:v=1:a=1[outv][outa]", graph)
	assert.Equal(t, 3, strings.Count(strings.Join(inv.Args, " "), "-i "))
}

func TestBuildStreamHLS(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.m3u8",
		Operations: []validate.Operation{&validate.Stream{
			Type: "stream", Format: "hls", SegmentDuration: 4,
			Variants: []validate.StreamVariant{
				{Name: "720p", Width: 1280, Height: 720, Bitrate: "2500k"},
			},
		}},
	})

	assert.Equal(t, "hls", flagValue(t, args, "-f"))
	assert.Equal(t, "4", flagValue(t, args, "-hls_time"))
	assert.Equal(t, "vod", flagValue(t, args, "-hls_playlist_type"))
	assert.Equal(t, "master.m3u8", flagValue(t, args, "-master_pl_name"))
	assert.Equal(t, "1280x720", flagValue(t, args, "-s:v:0"))
}

func TestBuildTwoPassVectors(t *testing.T) {
	b := NewBuilder(Caps{})
	base := Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Operations: []validate.Operation{&validate.Transcode{
			Type: "transcode", VideoCodec: "libx264", VideoBitrate: "5000k", TwoPass: true,
		}},
		PassLogPrefix: "/tmp/pass_abc",
	}

	pass1 := base
	pass1.Pass = 1
	inv1, err := b.Build(&pass1)
	require.NoError(t, err)
	assert.Equal(t, "1", flagValue(t, inv1.Args, "-pass"))
	assert.Equal(t, "/tmp/pass_abc", flagValue(t, inv1.Args, "-passlogfile"))
	assert.Equal(t, "null", flagValue(t, inv1.Args, "-f"))
	assert.NotContains(t, inv1.Args, "out.mp4")

	pass2 := base
	pass2.Pass = 2
	inv2, err := b.Build(&pass2)
	require.NoError(t, err)
	assert.Equal(t, "2", flagValue(t, inv2.Args, "-pass"))
	assert.Equal(t, "out.mp4", inv2.Args[len(inv2.Args)-1])
}

func TestEscapeMetadata(t *testing.T) {
	assert.Equal(t, "safe title", escapeMetadata("safe title"))
	assert.Equal(t, "a_b_c", escapeMetadata("a|b;c"))
	assert.Equal(t, "x_y", escapeMetadata("x`y"))
	assert.Len(t, escapeMetadata(strings.Repeat("a", 300)), 255)
}

func TestBuildMetadataSorted(t *testing.T) {
	args := buildArgs(t, &Request{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Options: &validate.Options{Metadata: map[string]string{
			"title": "t", "artist": "a", "comment": "c",
		}},
	})

	var pairs []string
	for i, a := range args {
		if a == "-metadata" {
			pairs = append(pairs, args[i+1])
		}
	}
	assert.Equal(t, []string{"artist=a", "comment=c", "title=t"}, pairs)
}
