package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/framecut/internal/media"
)

// h265Type returns the NAL unit type from a two-byte H.265 NAL header.
func h265Type(nalu []byte) h265.NALUType {
	return h265.NALUType((nalu[0] >> 1) & 0x3F)
}

// setH265Type rewrites the NAL unit type in place, preserving the
// layer-id/temporal-id bits of the two-byte header.
func setH265Type(nalu []byte, t h265.NALUType) {
	nalu[0] = nalu[0]&0x81 | byte(t)<<1
}

// ClassifyH265 derives the picture type of an H.265 access unit from its VCL
// NAL unit types.
func ClassifyH265(nalus [][]byte) media.PicType {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch t := h265Type(nalu); {
		case t == h265.NALUType_IDR_W_RADL || t == h265.NALUType_IDR_N_LP:
			return media.PicIDR
		case t == h265.NALUType_CRA_NUT:
			return media.PicCRA
		case t >= h265.NALUType_BLA_W_LP && t <= h265.NALUType_BLA_N_LP:
			return media.PicBLA
		case t == h265.NALUType_RASL_N || t == h265.NALUType_RASL_R:
			return media.PicRASL
		case t == h265.NALUType_RADL_N || t == h265.NALUType_RADL_R:
			return media.PicRADL
		case t <= h265.NALUType_RASL_R: // remaining VCL leading/trailing types
			return media.PicTRAIL
		}
	}
	return ""
}

// IsH265SafeKeyframe reports whether a keyframe-flagged access unit is usable
// as a splice point: BLA, IDR, or CRA (CRA needs the RASL treatment applied
// by RewriteH265Boundary, but its GOP is addressable).
func IsH265SafeKeyframe(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch t := h265Type(nalu); {
		case t >= h265.NALUType_BLA_W_LP && t <= h265.NALUType_CRA_NUT:
			return true
		case t == h265.NALUType_VPS_NUT || t == h265.NALUType_SPS_NUT ||
			t == h265.NALUType_PPS_NUT || t == h265.NALUType_AUD_NUT ||
			t == h265.NALUType_PREFIX_SEI_NUT || t == h265.NALUType_SUFFIX_SEI_NUT:
			continue
		default:
			return false
		}
	}
	return false
}

// IsH265Leading reports whether the access unit is a leading picture
// (RASL or RADL) attached to the preceding IRAP.
func IsH265Leading(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch h265Type(nalu) {
		case h265.NALUType_RASL_N, h265.NALUType_RASL_R,
			h265.NALUType_RADL_N, h265.NALUType_RADL_R:
			return true
		}
	}
	return false
}

// IsH265RASL reports whether the access unit is a RASL picture.
func IsH265RASL(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		t := h265Type(nalu)
		if t == h265.NALUType_RASL_N || t == h265.NALUType_RASL_R {
			return true
		}
	}
	return false
}

// RewriteCRAToBLA rewrites CRA slice NALs to BLA in place. A CRA that ends up
// mid-stream after a splice needs broken-link semantics; hasLeading selects
// BLA_W_LP (leading pictures follow) versus BLA_N_LP.
//
// Returns whether any NAL was rewritten.
func RewriteCRAToBLA(nalus [][]byte, hasLeading bool) bool {
	target := h265.NALUType_BLA_N_LP
	if hasLeading {
		target = h265.NALUType_BLA_W_LP
	}

	rewritten := false
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		if h265Type(nalu) == h265.NALUType_CRA_NUT {
			setH265Type(nalu, target)
			rewritten = true
		}
	}
	return rewritten
}

// ExtractH265ParameterSets returns VPS, SPS, and PPS NALs present in an
// access unit, in order.
func ExtractH265ParameterSets(nalus [][]byte) (vps, sps, pps [][]byte) {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch h265Type(nalu) {
		case h265.NALUType_VPS_NUT:
			vps = append(vps, nalu)
		case h265.NALUType_SPS_NUT:
			sps = append(sps, nalu)
		case h265.NALUType_PPS_NUT:
			pps = append(pps, nalu)
		}
	}
	return vps, sps, pps
}

// StripH265AUD drops access-unit delimiters.
func StripH265AUD(nalus [][]byte) [][]byte {
	out := nalus[:0]
	for _, nalu := range nalus {
		if len(nalu) >= 2 && h265Type(nalu) == h265.NALUType_AUD_NUT {
			continue
		}
		out = append(out, nalu)
	}
	return out
}
