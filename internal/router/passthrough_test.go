package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/media"
)

// aacStream describes a 48 kHz AAC track in a 1/48000 time base: one frame
// is exactly 1024 ticks.
func aacStream() media.StreamDescriptor {
	return media.StreamDescriptor{
		Index:      1,
		Kind:       media.StreamAudio,
		CodecID:    "aac",
		TimeBase:   media.Rational{Num: 1, Den: 48000},
		SampleRate: 48000,
	}
}

func subStream() media.StreamDescriptor {
	return media.StreamDescriptor{
		Index:    2,
		Kind:     media.StreamSubtitle,
		CodecID:  "subrip",
		TimeBase: media.Rational{Num: 1, Den: 1000},
	}
}

func audioPackets(n int) []*media.Packet {
	pkts := make([]*media.Packet, n)
	for i := range pkts {
		ts := int64(i) * 1024
		pkts[i] = &media.Packet{StreamIndex: 1, PTS: ts, DTS: ts, Duration: 1024, Data: []byte{0xFF}}
	}
	return pkts
}

func TestSegment_TrimsToWindow(t *testing.T) {
	r := New(aacStream(), media.TimeBase90k, 0)

	// Interval [1 s, 2 s) in 90 kHz -> [48000, 96000) stream ticks.
	out := r.Segment(media.TimeInterval{StartPTS: 90000, EndPTS: 180000}, audioPackets(200))

	require.NotEmpty(t, out)
	for _, pkt := range out {
		if pkt.Flags.Has(media.FlagDiscard) {
			continue
		}
		assert.GreaterOrEqual(t, pkt.PTS, int64(0))
		assert.Less(t, pkt.PTS, int64(48000))
	}
}

func TestSegment_AACPreRollFlaggedDiscard(t *testing.T) {
	r := New(aacStream(), media.TimeBase90k, 0)
	require.Equal(t, int64(1024), r.PreRoll(), "AAC priming is 1024 samples")

	out := r.Segment(media.TimeInterval{StartPTS: 90000, EndPTS: 180000}, audioPackets(200))
	require.NotEmpty(t, out)

	// The frame at 47104 ticks (one frame before 48000) is inside pre-roll.
	assert.True(t, out[0].Flags.Has(media.FlagDiscard))
	assert.False(t, out[1].Flags.Has(media.FlagDiscard))
}

func TestSegment_ConsecutiveIntervalsAreContiguous(t *testing.T) {
	r := New(aacStream(), media.TimeBase90k, 0)
	pkts := audioPackets(2000)

	first := r.Segment(media.TimeInterval{StartPTS: 0, EndPTS: 90000}, pkts)
	second := r.Segment(media.TimeInterval{StartPTS: 900000, EndPTS: 990000}, pkts)

	require.NotEmpty(t, first)
	require.NotEmpty(t, second)

	lastFirst := first[len(first)-1]
	firstSecond := second[0]
	for _, p := range second {
		if !p.Flags.Has(media.FlagDiscard) {
			firstSecond = p
			break
		}
	}

	// The second interval lands right after the first in output time.
	assert.Greater(t, firstSecond.PTS, lastFirst.PTS)
	assert.LessOrEqual(t, firstSecond.PTS-lastFirst.PTS-lastFirst.Duration, int64(1024),
		"gap between intervals must not exceed one frame")
}

func TestSegment_MonotonicAcrossSegments(t *testing.T) {
	r := New(aacStream(), media.TimeBase90k, 0)
	pkts := audioPackets(2000)

	var all []*media.Packet
	all = append(all, r.Segment(media.TimeInterval{StartPTS: 0, EndPTS: 90000}, pkts)...)
	all = append(all, r.Segment(media.TimeInterval{StartPTS: 900000, EndPTS: 990000}, pkts)...)
	all = append(all, r.Segment(media.TimeInterval{StartPTS: 1800000, EndPTS: 1890000}, pkts)...)

	prev := int64(-1 << 60)
	for _, p := range all {
		assert.Greater(t, p.DTS, prev, "DTS must be strictly monotonic")
		assert.GreaterOrEqual(t, p.PTS, p.DTS)
		prev = p.DTS
	}
}

func TestSegment_SubtitleWindow(t *testing.T) {
	r := New(subStream(), media.TimeBase90k, 0)

	pkts := []*media.Packet{
		{StreamIndex: 2, PTS: 500, DTS: 500, Duration: 1500, Data: []byte("early")},
		{StreamIndex: 2, PTS: 10500, DTS: 10500, Duration: 2000, Data: []byte("inside")},
		{StreamIndex: 2, PTS: 19900, DTS: 19900, Duration: 3000, Data: []byte("late-inside")},
		{StreamIndex: 2, PTS: 25000, DTS: 25000, Duration: 1000, Data: []byte("after")},
	}

	// [10 s, 20 s) in 90 kHz -> [10000, 20000) ms ticks.
	out := r.Segment(media.TimeInterval{StartPTS: 900000, EndPTS: 1800000}, pkts)

	require.Len(t, out, 2)
	assert.Equal(t, []byte("inside"), out[0].Data)
	assert.Equal(t, int64(500), out[0].PTS, "rebased to output timeline")
	assert.Equal(t, []byte("late-inside"), out[1].Data)
}

func TestSegment_SkipsNoTimestampPackets(t *testing.T) {
	r := New(subStream(), media.TimeBase90k, 0)
	pkts := []*media.Packet{{StreamIndex: 2, PTS: media.NoTimestamp, DTS: media.NoTimestamp}}

	out := r.Segment(media.TimeInterval{StartPTS: 0, EndPTS: 900000}, pkts)
	assert.Empty(t, out)
}

func TestNew_ExplicitPreRollWins(t *testing.T) {
	// 100 ms explicit pre-roll beats AAC's 1024-sample priming (~21 ms).
	r := New(aacStream(), media.TimeBase90k, 100)
	assert.Equal(t, int64(4800), r.PreRoll())
}
