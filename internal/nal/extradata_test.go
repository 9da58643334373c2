package nal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAVCC assembles a minimal AVCDecoderConfigurationRecord.
func buildAVCC(lengthSize int, sps, pps []byte) []byte {
	rec := []byte{
		1,          // configurationVersion
		0x64,       // AVCProfileIndication (High)
		0x00,       // profile_compatibility
		0x28,       // AVCLevelIndication (4.0)
		byte(0xFC | (lengthSize - 1)),
		0xE1, // numOfSequenceParameterSets = 1
	}
	rec = append(rec, byte(len(sps)>>8), byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 1) // numOfPictureParameterSets
	rec = append(rec, byte(len(pps)>>8), byte(len(pps)))
	rec = append(rec, pps...)
	return rec
}

// buildHVCC assembles a minimal HEVCDecoderConfigurationRecord.
func buildHVCC(lengthSize int, vps, sps, pps []byte) []byte {
	rec := make([]byte, 22)
	rec[0] = 1
	rec[21] = byte(0xFC | (lengthSize - 1))
	rec = append(rec, 3) // numOfArrays

	appendArray := func(nalType byte, nalu []byte) {
		rec = append(rec, nalType&0x3F, 0x00, 0x01)
		rec = append(rec, byte(len(nalu)>>8), byte(len(nalu)))
		rec = append(rec, nalu...)
	}
	appendArray(32, vps)
	appendArray(33, sps)
	appendArray(34, pps)
	return rec
}

func TestParseExtradata_AVCC(t *testing.T) {
	rec := buildAVCC(4, h264SPSNALU, h264PPSNALU)

	ps, err := ParseExtradata("h264", rec)
	require.NoError(t, err)
	assert.Equal(t, 4, ps.NALLengthSize)
	require.Len(t, ps.SPS, 1)
	require.Len(t, ps.PPS, 1)
	assert.Equal(t, h264SPSNALU, ps.SPS[0])
	assert.Equal(t, h264PPSNALU, ps.PPS[0])
	assert.Empty(t, ps.VPS)
}

func TestParseExtradata_HVCC(t *testing.T) {
	rec := buildHVCC(4, h265VPSNALU, h265SPSNALU, h265PPSNALU)

	ps, err := ParseExtradata("h265", rec)
	require.NoError(t, err)
	assert.Equal(t, 4, ps.NALLengthSize)
	require.Len(t, ps.VPS, 1)
	require.Len(t, ps.SPS, 1)
	require.Len(t, ps.PPS, 1)
	assert.Equal(t, h265VPSNALU, ps.VPS[0])
}

func TestParseExtradata_AnnexB(t *testing.T) {
	buf, err := MarshalAnnexB([][]byte{h264SPSNALU, h264PPSNALU})
	require.NoError(t, err)

	ps, err := ParseExtradata("h264", buf)
	require.NoError(t, err)
	assert.Equal(t, 4, ps.NALLengthSize)
	assert.Len(t, ps.SPS, 1)
	assert.Len(t, ps.PPS, 1)
}

func TestParseExtradata_Empty(t *testing.T) {
	ps, err := ParseExtradata("h264", nil)
	require.NoError(t, err)
	assert.True(t, ps.Empty())
	assert.Equal(t, 4, ps.NALLengthSize)
}

func TestParseExtradata_Malformed(t *testing.T) {
	_, err := ParseExtradata("h264", []byte{9, 9})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseExtradata("h265", []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParameterSetsInOrder(t *testing.T) {
	ps := &ParameterSets{
		VPS: [][]byte{h265VPSNALU},
		SPS: [][]byte{h265SPSNALU},
		PPS: [][]byte{h265PPSNALU},
	}
	ordered := ps.InOrder()
	require.Len(t, ordered, 3)
	assert.Equal(t, h265VPSNALU, ordered[0])
	assert.Equal(t, h265SPSNALU, ordered[1])
	assert.Equal(t, h265PPSNALU, ordered[2])
}

func TestEpochTracker(t *testing.T) {
	tr := NewEpochTracker()
	assert.Equal(t, 0, tr.Current())

	psA := &ParameterSets{SPS: [][]byte{h264SPSNALU}, PPS: [][]byte{h264PPSNALU}}
	assert.Equal(t, 1, tr.Observe(psA))
	assert.Equal(t, 1, tr.Observe(psA), "same config keeps epoch")

	// Empty observation keeps the current epoch.
	assert.Equal(t, 1, tr.Observe(&ParameterSets{}))
	assert.Equal(t, 1, tr.Observe(nil))

	psB := &ParameterSets{SPS: [][]byte{{0x67, 0x4D, 0x40, 0x1F}}, PPS: [][]byte{h264PPSNALU}}
	assert.Equal(t, 2, tr.Observe(psB))

	// Returning to a previously seen config is still a new epoch: epochs are
	// positional, not content-addressed.
	assert.Equal(t, 3, tr.Observe(psA))

	assert.Equal(t, psB, tr.ExtradataForEpoch(2))
	assert.Nil(t, tr.ExtradataForEpoch(9))
}
