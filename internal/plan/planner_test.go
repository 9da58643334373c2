package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/gop"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
)

const frameDur = 3000 // 30 fps at 90 kHz

func mkPkt(pts, dts int64, keyframe bool, picType media.PicType) *media.Packet {
	var flags media.PacketFlags
	if keyframe {
		flags = media.FlagKeyframe
	}
	return &media.Packet{PTS: pts, DTS: dts, Duration: frameDur, Flags: flags, PicType: picType}
}

// closedIndex builds nFrames frames, keyframe every gopLen, no reordering.
func closedIndex(t *testing.T, nFrames, gopLen int) *gop.Index {
	t.Helper()
	h, err := nal.NewHandler(codec.VideoMPEG2, nil)
	require.NoError(t, err)
	b, err := gop.NewBuilder(h, media.TimeBase90k, nil)
	require.NoError(t, err)
	for i := 0; i < nFrames; i++ {
		pts := int64(i) * frameDur
		key := i%gopLen == 0
		pic := media.PicP
		if key {
			pic = media.PicI
		}
		require.NoError(t, b.Add(mkPkt(pts, pts, key, pic)))
	}
	return b.Finish()
}

func plannerFor(t *testing.T, idx *gop.Index, v codec.Video) *Planner {
	t.Helper()
	h, err := nal.NewHandler(v, nil)
	require.NoError(t, err)
	return NewPlanner(idx, h, 0)
}

func TestPlan_StartOnKeyframe_NoPrefix(t *testing.T) {
	// E1 geometry: 60 s, GOP=30, 30 fps; cut at 10 s = frame 300.
	idx := closedIndex(t, 1800, 30)
	p := plannerFor(t, idx, codec.VideoMPEG2)

	sp, err := p.Plan(media.TimeInterval{StartPTS: 300 * frameDur, EndPTS: 600 * frameDur})
	require.NoError(t, err)

	assert.Empty(t, sp.ReencodePrefix, "start on closed-GOP keyframe needs no prefix")
	assert.Equal(t, int64(300*frameDur), sp.CopyFromPTS)
	assert.Equal(t, int64(599*frameDur), sp.CopyToPTS)
	assert.Empty(t, sp.ReencodeSuffix, "no reordering means the tail copies clean")
	assert.False(t, sp.SpliceRewrite)
}

func TestPlan_StartOneFrameBeforeKeyframe(t *testing.T) {
	idx := closedIndex(t, 300, 30)
	p := plannerFor(t, idx, codec.VideoMPEG2)

	// One frame before the keyframe at frame 30.
	sp, err := p.Plan(media.TimeInterval{StartPTS: 29 * frameDur, EndPTS: 90 * frameDur})
	require.NoError(t, err)

	require.Len(t, sp.ReencodePrefix, 1)
	assert.Equal(t, int64(29*frameDur), sp.ReencodePrefix[0])
	assert.Equal(t, int64(30*frameDur), sp.CopyFromPTS)

	// The prefix frame's decode window starts at its GOP keyframe.
	assert.Equal(t, int64(0), sp.PrefixWindow.StartDTS)
	assert.Equal(t, int64(29*frameDur), sp.PrefixWindow.EndDTS)
}

func TestPlan_MidGOPStart(t *testing.T) {
	idx := closedIndex(t, 300, 30)
	p := plannerFor(t, idx, codec.VideoMPEG2)

	sp, err := p.Plan(media.TimeInterval{StartPTS: 10 * frameDur, EndPTS: 90 * frameDur})
	require.NoError(t, err)

	assert.Len(t, sp.ReencodePrefix, 20, "frames 10..29 re-encode")
	assert.Equal(t, int64(10*frameDur), sp.ReencodePrefix[0])
	assert.Equal(t, int64(29*frameDur), sp.ReencodePrefix[19])
	assert.Equal(t, int64(30*frameDur), sp.CopyFromPTS)
	assert.Equal(t, int64(89*frameDur), sp.CopyToPTS)
}

func TestPlan_IntervalInsideOneGOP(t *testing.T) {
	idx := closedIndex(t, 300, 30)
	p := plannerFor(t, idx, codec.VideoMPEG2)

	sp, err := p.Plan(media.TimeInterval{StartPTS: 5 * frameDur, EndPTS: 20 * frameDur})
	require.NoError(t, err)

	assert.False(t, sp.HasCopy())
	assert.Len(t, sp.ReencodePrefix, 15)
	assert.Empty(t, sp.ReencodeSuffix)
}

func TestPlan_TailTrimsTrailingBFrames(t *testing.T) {
	// One GOP with B-frame reordering near the cut-out. Display order
	// 0..7, decode order 0,3,1,2,4,7,5,6 (dts = position in decode order).
	h, err := nal.NewHandler(codec.VideoMPEG2, nil)
	require.NoError(t, err)
	b, err := gop.NewBuilder(h, media.TimeBase90k, nil)
	require.NoError(t, err)

	type fr struct {
		pts int64
		pic media.PicType
	}
	decodeOrder := []fr{
		{0, media.PicI}, {3, media.PicP}, {1, media.PicB}, {2, media.PicB},
		{4, media.PicP}, {7, media.PicP}, {5, media.PicB}, {6, media.PicB},
	}
	for i, f := range decodeOrder {
		require.NoError(t, b.Add(mkPkt(f.pts*frameDur, int64(i)*frameDur, f.pts == 0, f.pic)))
	}
	idx := b.Finish()
	p := plannerFor(t, idx, codec.VideoMPEG2)

	// Cut at display frame 7 (exclusive): frame 7 decodes before 5 and 6,
	// so copying cannot stop at 6 without dropping a packet (7) that the
	// decode order already passed. The tail trims back to 4.
	sp, err := p.Plan(media.TimeInterval{StartPTS: 0, EndPTS: 7 * frameDur})
	require.NoError(t, err)

	assert.Equal(t, int64(0), sp.CopyFromPTS)
	assert.Equal(t, int64(4*frameDur), sp.CopyToPTS)
	assert.Equal(t, []int64{5 * frameDur, 6 * frameDur}, sp.ReencodeSuffix)
}

func TestPlan_CutAtCleanPointKeepsWholeTail(t *testing.T) {
	idx := closedIndex(t, 60, 30)
	p := plannerFor(t, idx, codec.VideoMPEG2)

	sp, err := p.Plan(media.TimeInterval{StartPTS: 0, EndPTS: 60 * frameDur})
	require.NoError(t, err)

	assert.Equal(t, int64(0), sp.CopyFromPTS)
	assert.Equal(t, int64(59*frameDur), sp.CopyToPTS)
	assert.Empty(t, sp.ReencodePrefix)
	assert.Empty(t, sp.ReencodeSuffix)
}

// h265Index builds IDR GOP + CRA GOP with RASL leading pictures.
func h265Index(t *testing.T) *gop.Index {
	t.Helper()
	h, err := nal.NewHandler(codec.VideoH265, nil)
	require.NoError(t, err)
	b, err := gop.NewBuilder(h, media.TimeBase90k, nil)
	require.NoError(t, err)

	add := func(naluType byte, pts, dts int64, keyframe bool) {
		nalu := []byte{naluType << 1, 0x01, 0xAF}
		data, err := nal.MarshalAnnexB([][]byte{nalu})
		require.NoError(t, err)
		var flags media.PacketFlags
		if keyframe {
			flags = media.FlagKeyframe
		}
		require.NoError(t, b.Add(&media.Packet{
			PTS: pts, DTS: dts, Duration: frameDur, Flags: flags, Data: data,
		}))
	}

	add(19, 0, 0, true) // IDR
	add(1, 1*frameDur, 1*frameDur, false)
	add(1, 2*frameDur, 2*frameDur, false)
	add(21, 6*frameDur, 3*frameDur, true) // CRA, displays at 6
	add(8, 3*frameDur, 4*frameDur, false) // RASL displaying 3
	add(8, 4*frameDur, 5*frameDur, false) // RASL displaying 4
	add(8, 5*frameDur, 6*frameDur, false) // RASL displaying 5
	add(1, 7*frameDur, 7*frameDur, false)
	add(1, 8*frameDur, 8*frameDur, false)
	return b.Finish()
}

func TestPlan_H265CutOnCRA(t *testing.T) {
	idx := h265Index(t)
	p := plannerFor(t, idx, codec.VideoH265)

	// Start exactly on the CRA keyframe: no prefix, but the copied run
	// needs broken-link handling.
	sp, err := p.Plan(media.TimeInterval{StartPTS: 6 * frameDur, EndPTS: 9 * frameDur})
	require.NoError(t, err)

	assert.Empty(t, sp.ReencodePrefix)
	assert.Equal(t, int64(6*frameDur), sp.CopyFromPTS)
	assert.True(t, sp.SpliceRewrite, "CRA at the splice needs CRA->BLA")
}

func TestPlan_H265PrefixIntoCRA(t *testing.T) {
	idx := h265Index(t)
	p := plannerFor(t, idx, codec.VideoH265)

	// Start mid-IDR-GOP; the next safe keyframe is the CRA at 6.
	sp, err := p.Plan(media.TimeInterval{StartPTS: 2 * frameDur, EndPTS: 9 * frameDur})
	require.NoError(t, err)

	// Prefix covers displays 2..5 (trailing of GOP 0 plus the RASLs).
	assert.Equal(t, []int64{2 * frameDur, 3 * frameDur, 4 * frameDur, 5 * frameDur}, sp.ReencodePrefix)
	assert.Equal(t, int64(6*frameDur), sp.CopyFromPTS)
	assert.True(t, sp.SpliceRewrite)

	// The decode window must reach the RASL packets, which decode after the
	// CRA even though they display before it.
	assert.Equal(t, int64(0), sp.PrefixWindow.StartDTS)
	assert.Equal(t, int64(6*frameDur), sp.PrefixWindow.EndDTS)
}

func TestPlan_MaxGOPFramesCap(t *testing.T) {
	idx := closedIndex(t, 300, 300) // one giant GOP
	h, err := nal.NewHandler(codec.VideoMPEG2, nil)
	require.NoError(t, err)
	p := NewPlanner(idx, h, 50)

	_, err = p.Plan(media.TimeInterval{StartPTS: 10 * frameDur, EndPTS: 200 * frameDur})
	assert.ErrorIs(t, err, ErrGopTooLarge)
}

func TestPlan_KeyframeOnlyFallback(t *testing.T) {
	idx := closedIndex(t, 120, 30)
	h, err := nal.NewHandler(codec.VideoVC1, nil) // SpliceNone codec
	require.NoError(t, err)
	p := NewPlanner(idx, h, 0)
	require.True(t, p.KeyframeOnly)

	sp, err := p.Plan(media.TimeInterval{StartPTS: 40 * frameDur, EndPTS: 70 * frameDur})
	require.NoError(t, err)

	assert.True(t, sp.KeyframeOnly)
	// GOP containing 40 starts at 30; GOP containing 69 ends at 89.
	assert.Equal(t, int64(30*frameDur), sp.CopyFromPTS)
	assert.Equal(t, int64(89*frameDur), sp.CopyToPTS)
	assert.Empty(t, sp.ReencodePrefix)
	assert.Empty(t, sp.ReencodeSuffix)
}
