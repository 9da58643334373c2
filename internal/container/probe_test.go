package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/media"
)

type stubRunner struct {
	output []byte
	err    error
	args   []string
}

func (s *stubRunner) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	s.args = args
	return s.output, s.err
}

const probeJSON = `{
  "format": {
    "filename": "in.mkv",
    "nb_streams": 3,
    "format_name": "matroska,webm",
    "start_time": "0.000000",
    "duration": "60.000000",
    "tags": {"title": "Sample"}
  },
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "profile": "High",
      "level": 40,
      "width": 1920,
      "height": 1080,
      "pix_fmt": "yuv420p",
      "time_base": "1/1000",
      "avg_frame_rate": "30/1",
      "r_frame_rate": "30/1",
      "sample_aspect_ratio": "1:1",
      "disposition": {"default": 1}
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2,
      "time_base": "1/1000",
      "tags": {"language": "eng"}
    },
    {
      "index": 2,
      "codec_name": "subrip",
      "codec_type": "subtitle",
      "time_base": "1/1000",
      "disposition": {"forced": 1},
      "tags": {"language": "ger"}
    }
  ],
  "chapters": [
    {
      "id": 1,
      "time_base": "1/1000000000",
      "start": 0,
      "end": 30000000000,
      "tags": {"title": "Part One"}
    }
  ]
}`

func TestProbeAndResolve(t *testing.T) {
	stub := &stubRunner{output: []byte(probeJSON)}
	p := NewProber("ffprobe")
	p.runner = stub

	result, err := p.Probe(context.Background(), "in.mkv")
	require.NoError(t, err)
	assert.Contains(t, stub.args, "-show_chapters")
	assert.Contains(t, stub.args, "-show_data")

	src, err := p.Resolve(result, "in.mkv")
	require.NoError(t, err)

	assert.Equal(t, 60.0, src.Duration)
	require.Len(t, src.Streams, 3)

	video := src.ReferenceVideo()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecID)
	assert.Equal(t, media.Rational{Num: 1, Den: 1000}, video.TimeBase)
	assert.Equal(t, media.Rational{Num: 30, Den: 1}, video.FrameRate)
	assert.Equal(t, media.Rational{Num: 1, Den: 1}, video.SAR)
	assert.True(t, video.Disposition.Default)

	audio := src.StreamsOfKind(media.StreamAudio)
	require.Len(t, audio, 1)
	assert.Equal(t, 48000, audio[0].SampleRate)
	assert.Equal(t, "eng", audio[0].Language)

	subs := src.StreamsOfKind(media.StreamSubtitle)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Disposition.Forced)

	require.Len(t, src.Chapters, 1)
	assert.Equal(t, "Part One", src.Chapters[0].Title)
	assert.Equal(t, int64(30000000000), src.Chapters[0].End)
}

func TestParseHexDump(t *testing.T) {
	dump := "00000000: 0164 001f ffe1 001b  .d......\n00000010: 6764 001f             gd.."
	got := parseHexDump(dump)
	assert.Equal(t, []byte{0x01, 0x64, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x1b, 0x67, 0x64, 0x00, 0x1f}, got)
}

func TestParseHexDump_Empty(t *testing.T) {
	assert.Nil(t, parseHexDump(""))
	assert.Nil(t, parseHexDump("no colon here"))
}

const packetsJSON = `{
  "packets": [
    {"codec_type": "video", "pts": 0, "dts": 0, "duration": 33, "flags": "K__"},
    {"codec_type": "video", "pts": 99, "dts": 33, "duration": 33, "flags": "___"},
    {"codec_type": "video", "pts": 33, "dts": 66, "duration": 33, "flags": "_D_"},
    {"codec_type": "video", "duration": 33, "flags": "__C"}
  ]
}`

func TestPacketIndexer(t *testing.T) {
	stub := &stubRunner{output: []byte(packetsJSON)}
	x := NewPacketIndexer("ffprobe")
	x.runner = stub

	pkts, err := x.Index(context.Background(), "in.webm", 0, false)
	require.NoError(t, err)
	require.Len(t, pkts, 4)

	assert.True(t, pkts[0].Keyframe())
	assert.Equal(t, int64(0), pkts[0].PTS)
	assert.Equal(t, int64(99), pkts[1].PTS)
	assert.False(t, pkts[1].Keyframe())
	assert.True(t, pkts[2].Flags.Has(media.FlagDiscard))
	assert.True(t, pkts[3].Flags.Has(media.FlagCorrupt))
	assert.Equal(t, media.NoTimestamp, pkts[3].PTS, "missing pts maps to NoTimestamp")

	assert.NotContains(t, stub.args, "-show_data")

	_, err = x.Index(context.Background(), "in.webm", 2, true)
	require.NoError(t, err)
	assert.Contains(t, stub.args, "-show_data")
}

func TestSRTTime(t *testing.T) {
	assert.Equal(t, "00:00:00,000", srtTime(0))
	assert.Equal(t, "00:00:01,500", srtTime(1500))
	assert.Equal(t, "01:02:03,004", srtTime(3723004))
	assert.Equal(t, "00:00:00,000", srtTime(-5))
}

func TestDispositionArgs(t *testing.T) {
	assert.Nil(t, dispositionArgs(0, media.Disposition{}))
	assert.Equal(t, []string{"-disposition:s:0", "forced"}, dispositionArgs(0, media.Disposition{Forced: true}))
	assert.Equal(t, []string{"-disposition:s:1", "default+forced"},
		dispositionArgs(1, media.Disposition{Default: true, Forced: true}))
}

func TestMP4TrackIndexPackets(t *testing.T) {
	idx := &MP4TrackIndex{
		TrackID:         1,
		Timescale:       24000,
		Handler:         "vide",
		SampleDTS:       []int64{0, 1001, 2002, 3003},
		SampleDurations: []int64{1001, 1001, 1001, 1001},
		SyncSamples:     []uint32{1, 3},
	}

	pkts := idx.Packets(0)
	require.Len(t, pkts, 4)
	assert.True(t, pkts[0].Keyframe())
	assert.False(t, pkts[1].Keyframe())
	assert.True(t, pkts[2].Keyframe())
	assert.Equal(t, media.Rational{Num: 1, Den: 24000}, idx.TimeBase())

	// No stss box means everything is a sync sample.
	idx.SyncSamples = nil
	pkts = idx.Packets(0)
	for _, p := range pkts {
		assert.True(t, p.Keyframe())
	}
}

func TestEscapeFFMetadata(t *testing.T) {
	assert.Equal(t, `a\=b\;c\#d`, escapeFFMetadata("a=b;c#d"))
}
