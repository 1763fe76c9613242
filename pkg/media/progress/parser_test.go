package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusLine = "frame=  240 fps= 48.0 q=28.0 size=    1024kB time=00:00:10.00 bitrate= 838.9kbits/s speed=1.92x"

func TestParseStatusLine(t *testing.T) {
	p := NewParser(100, true)

	u := p.Parse(statusLine)
	require.NotNil(t, u)

	require.NotNil(t, u.Frame)
	assert.Equal(t, int64(240), *u.Frame)
	require.NotNil(t, u.FPS)
	assert.InDelta(t, 48.0, *u.FPS, 0.001)
	require.NotNil(t, u.Time)
	assert.InDelta(t, 10.0, *u.Time, 0.001)
	require.NotNil(t, u.Percentage)
	assert.InDelta(t, 10.0, *u.Percentage, 0.001)
	require.NotNil(t, u.Bitrate)
	assert.InDelta(t, 838.9, *u.Bitrate, 0.001)
	require.NotNil(t, u.Speed)
	assert.InDelta(t, 1.92, *u.Speed, 0.001)
}

func TestParseTimeWithHours(t *testing.T) {
	p := NewParser(10000, true)

	u := p.Parse("time=01:02:03.50 bitrate= 100.0kbits/s")
	require.NotNil(t, u)
	require.NotNil(t, u.Time)
	assert.InDelta(t, 3723.5, *u.Time, 0.001)
}

func TestParsePercentageClamped(t *testing.T) {
	p := NewParser(5, true)

	u := p.Parse("time=00:00:10.00")
	require.NotNil(t, u)
	require.NotNil(t, u.Percentage)
	assert.InDelta(t, 100.0, *u.Percentage, 0.001)
}

func TestParseZeroDuration(t *testing.T) {
	p := NewParser(0, true)

	u := p.Parse("time=00:00:01.00")
	require.NotNil(t, u)
	require.NotNil(t, u.Percentage)
	assert.InDelta(t, 100.0, *u.Percentage, 0.001)

	u = p.Parse("time=00:00:00.00")
	require.NotNil(t, u)
	require.NotNil(t, u.Percentage)
	assert.InDelta(t, 0.0, *u.Percentage, 0.001)
}

func TestParseUnknownDurationOmitsPercentage(t *testing.T) {
	p := NewParser(0, false)

	u := p.Parse(statusLine)
	require.NotNil(t, u)
	assert.Nil(t, u.Percentage)
	assert.NotNil(t, u.Time)
}

func TestParseIgnoresNoise(t *testing.T) {
	p := NewParser(100, true)

	assert.Nil(t, p.Parse(""))
	assert.Nil(t, p.Parse("   "))
	assert.Nil(t, p.Parse("Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mp4':"))
	assert.Nil(t, p.Parse("Stream mapping:"))
}

func TestParsePartialLine(t *testing.T) {
	p := NewParser(100, true)

	u := p.Parse("frame=   10 fps=0.0")
	require.NotNil(t, u)
	assert.NotNil(t, u.Frame)
	assert.Nil(t, u.Time)
	assert.Nil(t, u.Percentage)
}
