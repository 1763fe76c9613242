package probe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "30/1"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
  ],
  "format": {"filename": "in.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "120.500000", "size": "10485760", "bit_rate": "696000"}
}`

func TestResultParsing(t *testing.T) {
	var result Result
	require.NoError(t, json.Unmarshal([]byte(sampleOutput), &result))

	d, ok := result.Duration()
	require.True(t, ok)
	assert.InDelta(t, 120.5, d, 0.001)

	video := result.VideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1920, video.Width)

	audio := result.AudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, 2, audio.Channels)
}

func TestResultMissingDuration(t *testing.T) {
	var result Result
	require.NoError(t, json.Unmarshal([]byte(`{"format": {}, "streams": []}`), &result))

	_, ok := result.Duration()
	assert.False(t, ok)
	assert.Nil(t, result.VideoStream())
}
