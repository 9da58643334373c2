package nal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/media"
)

// H.264 NAL headers: forbidden(1) + nal_ref_idc(2) + type(5).
var (
	h264SPSNALU = []byte{0x67, 0x64, 0x00, 0x28, 0xAC}
	h264PPSNALU = []byte{0x68, 0xEB, 0xE3, 0xCB}
	h264IDRNALU = []byte{0x65, 0x88, 0x84, 0x00}
	// Non-IDR slice with first_mb_in_slice=0, slice_type=0 (P): bits 1,1 -> 0xC0
	h264PNALU = []byte{0x41, 0xC0}
	// slice_type=1 (B): bits 1,010 -> 0xA0
	h264BNALU = []byte{0x41, 0xA0}
	// slice_type=2 (I): bits 1,011 -> 0xB0
	h264INALU = []byte{0x41, 0xB0}
	h264SEI   = []byte{0x06, 0x05, 0x01, 0x00}
	h264AUD   = []byte{0x09, 0xF0}
)

// H.265 NAL headers: two bytes, type in bits 1..6 of the first byte.
func h265NALU(naluType byte, payload ...byte) []byte {
	return append([]byte{naluType << 1, 0x01}, payload...)
}

var (
	h265VPSNALU   = h265NALU(32, 0x0C)
	h265SPSNALU   = h265NALU(33, 0x01)
	h265PPSNALU   = h265NALU(34, 0x01)
	h265IDRNALU   = h265NALU(19, 0xAF) // IDR_W_RADL
	h265CRANALU   = h265NALU(21, 0xAF) // CRA_NUT
	h265RASLNALU  = h265NALU(8, 0x02)  // RASL_N
	h265RADLNALU  = h265NALU(6, 0x02)  // RADL_N
	h265TrailNALU = h265NALU(1, 0x02)  // TRAIL_R
)

func TestClassifyH264(t *testing.T) {
	tests := []struct {
		name  string
		nalus [][]byte
		want  media.PicType
	}{
		{"idr", [][]byte{h264SPSNALU, h264PPSNALU, h264IDRNALU}, media.PicIDR},
		{"p slice", [][]byte{h264PNALU}, media.PicP},
		{"b slice", [][]byte{h264BNALU}, media.PicB},
		{"i slice non idr", [][]byte{h264INALU}, media.PicI},
		{"metadata only", [][]byte{h264SPSNALU, h264PPSNALU}, media.PicType("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyH264(tt.nalus))
		})
	}
}

func TestIsH264SafeKeyframe(t *testing.T) {
	assert.True(t, IsH264SafeKeyframe([][]byte{h264SPSNALU, h264PPSNALU, h264IDRNALU}))
	assert.True(t, IsH264SafeKeyframe([][]byte{h264SEI, h264IDRNALU}))
	// Recovery-point keyframe: non-IDR slice flagged keyframe by the container.
	assert.False(t, IsH264SafeKeyframe([][]byte{h264SEI, h264INALU}))
	assert.False(t, IsH264SafeKeyframe([][]byte{h264SPSNALU, h264PPSNALU}))
}

func TestClassifyH265(t *testing.T) {
	tests := []struct {
		name  string
		nalus [][]byte
		want  media.PicType
	}{
		{"idr", [][]byte{h265VPSNALU, h265SPSNALU, h265PPSNALU, h265IDRNALU}, media.PicIDR},
		{"cra", [][]byte{h265CRANALU}, media.PicCRA},
		{"rasl", [][]byte{h265RASLNALU}, media.PicRASL},
		{"radl", [][]byte{h265RADLNALU}, media.PicRADL},
		{"trail", [][]byte{h265TrailNALU}, media.PicTRAIL},
		{"bla after rewrite", [][]byte{h265NALU(16, 0xAF)}, media.PicBLA},
		{"metadata only", [][]byte{h265VPSNALU, h265SPSNALU}, media.PicType("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyH265(tt.nalus))
		})
	}
}

func TestIsH265SafeKeyframe(t *testing.T) {
	assert.True(t, IsH265SafeKeyframe([][]byte{h265VPSNALU, h265SPSNALU, h265PPSNALU, h265IDRNALU}))
	assert.True(t, IsH265SafeKeyframe([][]byte{h265CRANALU}))
	assert.False(t, IsH265SafeKeyframe([][]byte{h265TrailNALU}))
	assert.False(t, IsH265SafeKeyframe([][]byte{h265VPSNALU, h265SPSNALU}))
}

func TestH265LeadingAndRASL(t *testing.T) {
	assert.True(t, IsH265Leading([][]byte{h265RASLNALU}))
	assert.True(t, IsH265Leading([][]byte{h265RADLNALU}))
	assert.False(t, IsH265Leading([][]byte{h265TrailNALU}))

	assert.True(t, IsH265RASL([][]byte{h265RASLNALU}))
	assert.False(t, IsH265RASL([][]byte{h265RADLNALU}))
}

func TestRewriteCRAToBLA(t *testing.T) {
	cra := make([]byte, len(h265CRANALU))
	copy(cra, h265CRANALU)
	nalus := [][]byte{cra}

	require.True(t, RewriteCRAToBLA(nalus, true))
	assert.Equal(t, media.PicBLA, ClassifyH265(nalus))
	// BLA_W_LP is type 16.
	assert.Equal(t, byte(16), nalus[0][0]>>1&0x3F)

	// No leading pictures -> BLA_N_LP (18).
	cra2 := make([]byte, len(h265CRANALU))
	copy(cra2, h265CRANALU)
	require.True(t, RewriteCRAToBLA([][]byte{cra2}, false))
	assert.Equal(t, byte(18), cra2[0]>>1&0x3F)

	// Nothing to rewrite on an IDR.
	idr := make([]byte, len(h265IDRNALU))
	copy(idr, h265IDRNALU)
	assert.False(t, RewriteCRAToBLA([][]byte{idr}, true))
}

func TestExtractParameterSets(t *testing.T) {
	sps, pps := ExtractH264ParameterSets([][]byte{h264SPSNALU, h264PPSNALU, h264IDRNALU})
	assert.Len(t, sps, 1)
	assert.Len(t, pps, 1)

	vps, sps265, pps265 := ExtractH265ParameterSets([][]byte{h265VPSNALU, h265SPSNALU, h265PPSNALU, h265CRANALU})
	assert.Len(t, vps, 1)
	assert.Len(t, sps265, 1)
	assert.Len(t, pps265, 1)
}

func TestStripAUD(t *testing.T) {
	out := StripH264AUD([][]byte{h264AUD, h264IDRNALU})
	require.Len(t, out, 1)
	assert.Equal(t, h264IDRNALU, out[0])

	out = StripH265AUD([][]byte{h265NALU(35, 0x10), h265IDRNALU})
	require.Len(t, out, 1)
	assert.Equal(t, h265IDRNALU, out[0])
}
