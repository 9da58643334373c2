package nal

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/jmylchreest/framecut/internal/media"
)

// h264Type returns the NAL unit type of a single H.264 NAL.
func h264Type(nalu []byte) h264.NALUType {
	return h264.NALUType(nalu[0] & 0x1F)
}

// ClassifyH264 derives the picture type of an H.264 access unit. IDR wins
// over everything; otherwise the slice type of the first VCL NAL decides.
func ClassifyH264(nalus [][]byte) media.PicType {
	sawNonIDR := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264Type(nalu) {
		case h264.NALUTypeIDR:
			return media.PicIDR
		case h264.NALUTypeNonIDR, h264.NALUTypeDataPartitionA:
			sawNonIDR = true
			if pt := h264SliceType(nalu); pt != "" {
				return pt
			}
		}
	}
	if sawNonIDR {
		return media.PicP
	}
	return ""
}

// h264SliceType reads slice_type from the slice header of a VCL NAL.
// Slice layout: first_mb_in_slice (ue), slice_type (ue).
func h264SliceType(nalu []byte) media.PicType {
	if len(nalu) < 2 {
		return ""
	}
	rbsp := EmulationPreventionRemove(nalu[1:])
	br := newBitReader(rbsp)
	if _, err := br.readUE(); err != nil { // first_mb_in_slice
		return ""
	}
	sliceType, err := br.readUE()
	if err != nil {
		return ""
	}
	switch sliceType % 5 {
	case 0, 3:
		return media.PicP
	case 1, 4: // 4 is SP; grouped with B for reordering purposes
		return media.PicB
	case 2:
		return media.PicI
	}
	return ""
}

// IsH264SafeKeyframe reports whether a keyframe-flagged access unit begins a
// GOP that is usable as a splice point: it must contain an IDR, or only
// parameter sets and SEI ahead of one.
func IsH264SafeKeyframe(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264Type(nalu) {
		case h264.NALUTypeIDR:
			return true
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI,
			h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeFillerData:
			continue
		default:
			// A recovery-point keyframe (open GOP): not safe for passthrough
			// splicing, the planner re-encodes into it instead.
			return false
		}
	}
	return false
}

// ExtractH264ParameterSets returns the SPS and PPS NALs present in an access
// unit, in order.
func ExtractH264ParameterSets(nalus [][]byte) (sps, pps [][]byte) {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264Type(nalu) {
		case h264.NALUTypeSPS:
			sps = append(sps, nalu)
		case h264.NALUTypePPS:
			pps = append(pps, nalu)
		}
	}
	return sps, pps
}

// H264GapsAllowed parses an SPS NAL and reports whether
// gaps_in_frame_num_value_allowed_flag is set, one of the open-GOP signals.
func H264GapsAllowed(spsNALU []byte) (bool, error) {
	var sps h264.SPS
	if err := sps.Unmarshal(spsNALU); err != nil {
		return false, fmt.Errorf("%w: parsing SPS: %v", ErrMalformed, err)
	}
	return sps.GapsInFrameNumValueAllowedFlag, nil
}

// StripH264AUD drops access-unit delimiters so the surgeon can re-sequence
// the boundary AU deterministically.
func StripH264AUD(nalus [][]byte) [][]byte {
	out := nalus[:0]
	for _, nalu := range nalus {
		if len(nalu) > 0 && h264Type(nalu) == h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		out = append(out, nalu)
	}
	return out
}
