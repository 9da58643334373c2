package reencode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/media"
)

func h264Request() Request {
	return Request{
		InputPath:   "in.mp4",
		StreamIndex: 0,
		Stream: media.StreamDescriptor{
			Index:     0,
			Kind:      media.StreamVideo,
			CodecID:   "h264",
			Profile:   "High",
			PixFmt:    "yuv420p",
			TimeBase:  media.TimeBase90k,
			FrameRate: media.Rational{Num: 30, Den: 1},
			SAR:       media.Rational{Num: 1, Den: 1},
		},
		SeekSeconds:    9.0,
		StartSeconds:   9.5,
		EndSeconds:     10.0,
		ExpectedFrames: 15,
	}
}

func TestBuildCommand_H264(t *testing.T) {
	e := NewEngine("/usr/bin/ffmpeg", "near_lossless", nil)
	b, err := e.buildCommand(h264Request(), codec.VideoH264)
	require.NoError(t, err)

	line := b.String()
	assert.Contains(t, line, "-ss 9.000000")
	assert.Contains(t, line, "-copyts")
	assert.Contains(t, line, "-c:v libx264")
	assert.Contains(t, line, "-crf 3")
	assert.Contains(t, line, "-profile:v high")
	assert.Contains(t, line, "sps-id=3")
	assert.Contains(t, line, "trim=start=9.500000:end=10.000000,setsar=1/1")
	assert.Contains(t, line, "-force_key_frames expr:eq(n,0)")
	assert.Contains(t, line, "-f mpegts")
	assert.Contains(t, line, "-pix_fmt yuv420p")
}

func TestBuildCommand_H265(t *testing.T) {
	e := NewEngine("ffmpeg", "normal", nil)
	req := h264Request()
	req.Stream.CodecID = "hevc"
	req.Stream.Profile = "Main"

	b, err := e.buildCommand(req, codec.VideoH265)
	require.NoError(t, err)

	line := b.String()
	assert.Contains(t, line, "-c:v libx265")
	// HEVC gets +4 CRF over the preset's 18.
	assert.Contains(t, line, "-crf 22")
	assert.Contains(t, line, "repeat-headers=1")
	assert.Contains(t, line, "info=0")
}

func TestBuildCommand_Lossless(t *testing.T) {
	e := NewEngine("ffmpeg", "lossless", nil)
	req := h264Request()
	req.Stream.CodecID = "hevc"

	b, err := e.buildCommand(req, codec.VideoH265)
	require.NoError(t, err)

	line := b.String()
	assert.Contains(t, line, "-crf 0")
	assert.Contains(t, line, "lossless=1")
}

func TestMapH264Profile(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"High", "high"},
		{"Main", "main"},
		{"Constrained Baseline", "baseline"},
		{"High 4:4:4 Predictive", "high444"},
		{"High 10", "high10"},
		{"Something Rext", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapH264Profile(tt.in), tt.in)
	}
}

func TestEncode_RejectsNonNALCodec(t *testing.T) {
	e := NewEngine("ffmpeg", "normal", nil)
	req := h264Request()
	req.Stream.CodecID = "vp9"

	_, err := e.Encode(t.Context(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderExhausted)
	assert.True(t, strings.Contains(err.Error(), "vp9"))
}
