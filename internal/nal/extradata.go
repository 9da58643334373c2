package nal

import (
	"encoding/binary"
	"fmt"
)

// ParameterSets holds the decoder-configuration NALs of one epoch.
// VPS is empty for H.264.
type ParameterSets struct {
	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
	// NALLengthSize is the length-prefix width declared by avcC/hvcC
	// extradata; 4 when the source is Annex B.
	NALLengthSize int
}

// Empty reports whether no parameter sets are present.
func (p *ParameterSets) Empty() bool {
	return len(p.VPS) == 0 && len(p.SPS) == 0 && len(p.PPS) == 0
}

// InOrder returns the parameter-set NALs in decoding order (VPS, SPS, PPS).
func (p *ParameterSets) InOrder() [][]byte {
	out := make([][]byte, 0, len(p.VPS)+len(p.SPS)+len(p.PPS))
	out = append(out, p.VPS...)
	out = append(out, p.SPS...)
	out = append(out, p.PPS...)
	return out
}

// ParseExtradata parses codec extradata into parameter sets. It accepts
// avcC/hvcC configuration records as stored in MP4/MKV, and raw Annex B
// extradata as produced by encoders and MPEG-TS.
func ParseExtradata(codecID string, extradata []byte) (*ParameterSets, error) {
	if len(extradata) == 0 {
		return &ParameterSets{NALLengthSize: 4}, nil
	}
	if IsAnnexB(extradata) {
		nalus, err := SplitAnnexB(extradata)
		if err != nil {
			return nil, err
		}
		ps := &ParameterSets{NALLengthSize: 4}
		switch codecID {
		case "h265", "hevc":
			ps.VPS, ps.SPS, ps.PPS = ExtractH265ParameterSets(nalus)
		default:
			ps.SPS, ps.PPS = ExtractH264ParameterSets(nalus)
		}
		return ps, nil
	}

	switch codecID {
	case "h265", "hevc":
		return parseHVCC(extradata)
	default:
		return parseAVCC(extradata)
	}
}

// parseAVCC parses an AVCDecoderConfigurationRecord.
func parseAVCC(data []byte) (*ParameterSets, error) {
	if len(data) < 7 || data[0] != 1 {
		return nil, fmt.Errorf("%w: bad avcC record", ErrMalformed)
	}

	ps := &ParameterSets{NALLengthSize: int(data[4]&0x03) + 1}
	pos := 5

	numSPS := int(data[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		nalu, next, err := readNALU16(data, pos)
		if err != nil {
			return nil, err
		}
		ps.SPS = append(ps.SPS, nalu)
		pos = next
	}

	if pos >= len(data) {
		return nil, fmt.Errorf("%w: avcC missing PPS count", ErrMalformed)
	}
	numPPS := int(data[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		nalu, next, err := readNALU16(data, pos)
		if err != nil {
			return nil, err
		}
		ps.PPS = append(ps.PPS, nalu)
		pos = next
	}

	return ps, nil
}

// parseHVCC parses an HEVCDecoderConfigurationRecord.
func parseHVCC(data []byte) (*ParameterSets, error) {
	if len(data) < 23 || data[0] != 1 {
		return nil, fmt.Errorf("%w: bad hvcC record", ErrMalformed)
	}

	ps := &ParameterSets{NALLengthSize: int(data[21]&0x03) + 1}
	numArrays := int(data[22])
	pos := 23

	for i := 0; i < numArrays; i++ {
		if pos+3 > len(data) {
			return nil, fmt.Errorf("%w: truncated hvcC array header", ErrMalformed)
		}
		nalType := data[pos] & 0x3F
		count := int(binary.BigEndian.Uint16(data[pos+1 : pos+3]))
		pos += 3

		for j := 0; j < count; j++ {
			nalu, next, err := readNALU16(data, pos)
			if err != nil {
				return nil, err
			}
			switch nalType {
			case 32:
				ps.VPS = append(ps.VPS, nalu)
			case 33:
				ps.SPS = append(ps.SPS, nalu)
			case 34:
				ps.PPS = append(ps.PPS, nalu)
			}
			pos = next
		}
	}

	return ps, nil
}

// readNALU16 reads one 16-bit-length-prefixed NAL at pos.
func readNALU16(data []byte, pos int) ([]byte, int, error) {
	if pos+2 > len(data) {
		return nil, 0, fmt.Errorf("%w: truncated NAL length", ErrMalformed)
	}
	size := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if size == 0 || pos+size > len(data) {
		return nil, 0, fmt.Errorf("%w: NAL length %d exceeds record", ErrMalformed, size)
	}
	return data[pos : pos+size], pos + size, nil
}

// AnnexBExtradata renders the parameter sets as Annex B extradata, the form
// handed to the boundary encoder and to MKV CodecPrivate for Annex B streams.
func (p *ParameterSets) AnnexBExtradata() ([]byte, error) {
	if p.Empty() {
		return nil, nil
	}
	return MarshalAnnexB(p.InOrder())
}
