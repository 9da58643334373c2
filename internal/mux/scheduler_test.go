package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/media"
)

// recordingWriter captures everything the scheduler emits.
type recordingWriter struct {
	streams   []media.StreamDescriptor
	packets   []*media.Packet
	finalized bool
	chapters  []media.Chapter
}

func (w *recordingWriter) AddStream(desc media.StreamDescriptor) error {
	w.streams = append(w.streams, desc)
	return nil
}

func (w *recordingWriter) WritePacket(pkt *media.Packet) error {
	w.packets = append(w.packets, pkt)
	return nil
}

func (w *recordingWriter) Finalize(chapters []media.Chapter, _ []media.Attachment) error {
	w.finalized = true
	w.chapters = chapters
	return nil
}

func videoDesc() media.StreamDescriptor {
	return media.StreamDescriptor{Index: 0, Kind: media.StreamVideo, CodecID: "h264", TimeBase: media.TimeBase90k}
}

func audioDesc() media.StreamDescriptor {
	return media.StreamDescriptor{Index: 1, Kind: media.StreamAudio, CodecID: "aac", TimeBase: media.Rational{Num: 1, Den: 48000}}
}

func vPkt(pts, dts int64) *media.Packet {
	return &media.Packet{StreamIndex: 0, PTS: pts, DTS: dts, Duration: 3000, Data: []byte{1}}
}

func aPkt(ts int64) *media.Packet {
	return &media.Packet{StreamIndex: 1, PTS: ts, DTS: ts, Duration: 1024, Data: []byte{2}}
}

func newTestScheduler(t *testing.T, preserve bool) (*Scheduler, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	s := NewScheduler(w, nil, preserve, 8)
	require.NoError(t, s.AddStream(videoDesc()))
	require.NoError(t, s.AddStream(audioDesc()))
	return s, w
}

func TestScheduler_InterleavesByDTS(t *testing.T) {
	s, w := newTestScheduler(t, true)

	// Video at 0ms, 33ms, 66ms; audio at 0ms, 21ms, 42ms, 64ms.
	require.NoError(t, s.Push(vPkt(0, 0)))
	require.NoError(t, s.Push(vPkt(3000, 3000)))
	require.NoError(t, s.Push(vPkt(6000, 6000)))
	require.NoError(t, s.Push(aPkt(0)))
	require.NoError(t, s.Push(aPkt(1024)))
	require.NoError(t, s.Push(aPkt(2048)))
	require.NoError(t, s.Push(aPkt(3072)))
	require.NoError(t, s.Close(nil, nil))

	require.Len(t, w.packets, 7)
	assert.True(t, w.finalized)

	// Cross-stream order is DTS-ascending in a common base.
	prev := int64(-1)
	for _, pkt := range w.packets {
		var dts90k int64
		if pkt.StreamIndex == 0 {
			dts90k = pkt.DTS
		} else {
			dts90k = media.Rescale(pkt.DTS, media.Rational{Num: 1, Den: 48000}, media.TimeBase90k)
		}
		assert.GreaterOrEqual(t, dts90k, prev)
		prev = dts90k
	}
}

func TestScheduler_PerStreamMonotonic(t *testing.T) {
	s, w := newTestScheduler(t, true)
	require.NoError(t, s.StreamDone(1))

	// The re-encoder can hand over duplicate DTS; they get rebased.
	require.NoError(t, s.Push(vPkt(0, 0)))
	require.NoError(t, s.Push(vPkt(3000, 0)))
	require.NoError(t, s.Push(vPkt(6000, 0)))
	require.NoError(t, s.Close(nil, nil))

	require.Len(t, w.packets, 3)
	assert.Equal(t, int64(0), w.packets[0].DTS)
	assert.Equal(t, int64(1), w.packets[1].DTS)
	assert.Equal(t, int64(2), w.packets[2].DTS)
	for _, pkt := range w.packets {
		assert.GreaterOrEqual(t, pkt.PTS, pkt.DTS)
	}
}

func TestScheduler_RebasesFirstDTSToZero(t *testing.T) {
	s, w := newTestScheduler(t, false)
	require.NoError(t, s.StreamDone(1))

	// Input epoch starts at 10 s.
	require.NoError(t, s.Push(vPkt(900000, 900000)))
	require.NoError(t, s.Push(vPkt(903000, 903000)))
	require.NoError(t, s.Close(nil, nil))

	require.Len(t, w.packets, 2)
	assert.Equal(t, int64(0), w.packets[0].DTS)
	assert.Equal(t, int64(0), w.packets[0].PTS)
	assert.Equal(t, int64(3000), w.packets[1].DTS)
}

func TestScheduler_PreserveTimestampsKeepsEpoch(t *testing.T) {
	s, w := newTestScheduler(t, true)
	require.NoError(t, s.StreamDone(1))

	require.NoError(t, s.Push(vPkt(900000, 900000)))
	require.NoError(t, s.Close(nil, nil))

	require.Len(t, w.packets, 1)
	assert.Equal(t, int64(900000), w.packets[0].DTS)
}

func TestScheduler_WaitsForLaggingStream(t *testing.T) {
	s, w := newTestScheduler(t, true)

	// Push only video: nothing may be emitted while audio might still
	// produce earlier timestamps.
	require.NoError(t, s.Push(vPkt(0, 0)))
	require.NoError(t, s.Push(vPkt(3000, 3000)))
	assert.Empty(t, w.packets)

	// Audio arrives at the same timestamp as the first video packet; with
	// every stream queued, the merge may emit.
	require.NoError(t, s.Push(aPkt(0)))
	require.NotEmpty(t, w.packets)

	require.NoError(t, s.Close(nil, nil))
	assert.Len(t, w.packets, 3)
}

func TestScheduler_QueueOverflowForcesEmit(t *testing.T) {
	s, w := newTestScheduler(t, true)

	// Audio never produces; video exceeds the depth bound of 8.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Push(vPkt(int64(i)*3000, int64(i)*3000)))
	}
	assert.NotEmpty(t, w.packets, "overflowing queue must start draining")

	require.NoError(t, s.Close(nil, nil))
	assert.Len(t, w.packets, 10)
}

func TestScheduler_StreamDoneUnblocks(t *testing.T) {
	s, w := newTestScheduler(t, true)

	require.NoError(t, s.Push(vPkt(0, 0)))
	assert.Empty(t, w.packets)

	require.NoError(t, s.StreamDone(1))
	assert.Len(t, w.packets, 1, "done stream no longer blocks the merge")
}

func TestScheduler_Errors(t *testing.T) {
	s, _ := newTestScheduler(t, true)

	err := s.Push(&media.Packet{StreamIndex: 9, PTS: 0, DTS: 0})
	assert.Error(t, err)

	require.NoError(t, s.StreamDone(1))
	err = s.Push(aPkt(0))
	assert.Error(t, err, "pushing to a finished stream fails")

	err = s.AddStream(videoDesc())
	assert.Error(t, err, "duplicate stream")
}

func TestScheduler_FinalizeCarriesChapters(t *testing.T) {
	s, w := newTestScheduler(t, true)
	chapters := []media.Chapter{{ID: 1, Title: "Intro", TimeBase: media.Rational{Num: 1, Den: 1000}, Start: 0, End: 1000}}
	require.NoError(t, s.Close(chapters, nil))
	assert.Equal(t, chapters, w.chapters)
}
