package nal

import (
	"fmt"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/media"
)

// Handler is the per-codec capability interface used by the planner and the
// splice path. Adding a codec means adding a variant, not a branch.
type Handler interface {
	// Codec returns the canonical codec this handler serves.
	Codec() codec.Video

	// Splice returns the splice capability level.
	Splice() codec.SpliceSupport

	// Classify derives the picture type of an access unit payload.
	// Keyframe-flag codecs return PicI/PicP based on the packet flag alone,
	// which the caller passes in.
	Classify(au []byte, keyframe bool) media.PicType

	// SafeKeyframe reports whether a keyframe access unit is a usable splice
	// point for passthrough.
	SafeKeyframe(au []byte) bool

	// ParameterSets extracts in-band parameter sets from an access unit.
	ParameterSets(au []byte) (*ParameterSets, error)

	// IsLeading reports whether the AU is a leading picture attached to the
	// previous random-access point.
	IsLeading(au []byte) bool

	// DropAtSplice reports whether the AU must be discarded when its
	// random-access point becomes a mid-stream splice (H.265 RASL).
	DropAtSplice(au []byte) bool

	// RewriteSpliceStart rewrites the first copied access unit after a
	// splice (H.265 CRA to BLA). Returns the rewritten AU and whether a
	// rewrite happened.
	RewriteSpliceStart(au []byte, hasLeading bool) ([]byte, bool, error)

	// NALLengthSize returns the length-prefix width for length-prefixed
	// access units of this stream.
	NALLengthSize() int
}

// NewHandler returns the handler variant for a codec. Extradata supplies the
// NAL length size for length-prefixed sources; nil extradata implies Annex B.
func NewHandler(v codec.Video, extradata []byte) (Handler, error) {
	switch v {
	case codec.VideoH264:
		ps, err := ParseExtradata(string(v), extradata)
		if err != nil {
			return nil, err
		}
		return &h264Handler{lengthSize: ps.NALLengthSize}, nil
	case codec.VideoH265:
		ps, err := ParseExtradata(string(v), extradata)
		if err != nil {
			return nil, err
		}
		return &h265Handler{lengthSize: ps.NALLengthSize}, nil
	case codec.VideoVP9, codec.VideoAV1, codec.VideoMPEG2:
		return &keyframeHandler{codec: v}, nil
	default:
		return &genericHandler{codec: v}, nil
	}
}

// h264Handler implements NAL-aware splicing for H.264.
type h264Handler struct {
	lengthSize int
}

func (h *h264Handler) Codec() codec.Video          { return codec.VideoH264 }
func (h *h264Handler) NALLengthSize() int          { return h.lengthSize }
func (h *h264Handler) Splice() codec.SpliceSupport { return codec.SpliceNALAware }
func (h *h264Handler) IsLeading(au []byte) bool    { return false }
func (h *h264Handler) DropAtSplice(au []byte) bool { return false }

func (h *h264Handler) split(au []byte) ([][]byte, error) {
	return Split(au, h.lengthSize)
}

func (h *h264Handler) Classify(au []byte, keyframe bool) media.PicType {
	nalus, err := h.split(au)
	if err != nil {
		if keyframe {
			return media.PicI
		}
		return media.PicP
	}
	if pt := ClassifyH264(nalus); pt != "" {
		return pt
	}
	if keyframe {
		return media.PicI
	}
	return media.PicP
}

func (h *h264Handler) SafeKeyframe(au []byte) bool {
	nalus, err := h.split(au)
	if err != nil {
		return false
	}
	return IsH264SafeKeyframe(nalus)
}

func (h *h264Handler) ParameterSets(au []byte) (*ParameterSets, error) {
	nalus, err := h.split(au)
	if err != nil {
		return nil, err
	}
	ps := &ParameterSets{NALLengthSize: h.lengthSize}
	ps.SPS, ps.PPS = ExtractH264ParameterSets(nalus)
	return ps, nil
}

func (h *h264Handler) RewriteSpliceStart(au []byte, _ bool) ([]byte, bool, error) {
	// H.264 splice starts are IDR by planner construction; nothing to rewrite.
	return au, false, nil
}

// h265Handler implements NAL-aware splicing for H.265, including CRA/BLA/RASL
// handling.
type h265Handler struct {
	lengthSize int
}

func (h *h265Handler) Codec() codec.Video          { return codec.VideoH265 }
func (h *h265Handler) Splice() codec.SpliceSupport { return codec.SpliceNALAware }
func (h *h265Handler) NALLengthSize() int          { return h.lengthSize }

func (h *h265Handler) split(au []byte) ([][]byte, error) {
	return Split(au, h.lengthSize)
}

func (h *h265Handler) Classify(au []byte, keyframe bool) media.PicType {
	nalus, err := h.split(au)
	if err != nil {
		if keyframe {
			return media.PicI
		}
		return media.PicTRAIL
	}
	if pt := ClassifyH265(nalus); pt != "" {
		return pt
	}
	if keyframe {
		return media.PicI
	}
	return media.PicTRAIL
}

func (h *h265Handler) SafeKeyframe(au []byte) bool {
	nalus, err := h.split(au)
	if err != nil {
		return false
	}
	return IsH265SafeKeyframe(nalus)
}

func (h *h265Handler) ParameterSets(au []byte) (*ParameterSets, error) {
	nalus, err := h.split(au)
	if err != nil {
		return nil, err
	}
	ps := &ParameterSets{NALLengthSize: h.lengthSize}
	ps.VPS, ps.SPS, ps.PPS = ExtractH265ParameterSets(nalus)
	return ps, nil
}

func (h *h265Handler) IsLeading(au []byte) bool {
	nalus, err := h.split(au)
	if err != nil {
		return false
	}
	return IsH265Leading(nalus)
}

func (h *h265Handler) DropAtSplice(au []byte) bool {
	nalus, err := h.split(au)
	if err != nil {
		return false
	}
	return IsH265RASL(nalus)
}

func (h *h265Handler) RewriteSpliceStart(au []byte, hasLeading bool) ([]byte, bool, error) {
	annexB := IsAnnexB(au)
	nalus, err := h.split(au)
	if err != nil {
		return nil, false, err
	}

	// Rewrite in a copy: splice rewrites must not mutate the cached packet.
	cloned := make([][]byte, len(nalus))
	for i, nalu := range nalus {
		c := make([]byte, len(nalu))
		copy(c, nalu)
		cloned[i] = c
	}

	if !RewriteCRAToBLA(cloned, hasLeading) {
		return au, false, nil
	}

	var out []byte
	if annexB {
		out, err = MarshalAnnexB(cloned)
	} else {
		out, err = MarshalLengthPrefixed(cloned)
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// keyframeHandler serves codecs where the container keyframe flag is
// authoritative (VP9, AV1, MPEG-2): every keyframe is a clean splice point
// and there is no NAL surgery to do.
type keyframeHandler struct {
	codec codec.Video
}

func (h *keyframeHandler) Codec() codec.Video          { return h.codec }
func (h *keyframeHandler) Splice() codec.SpliceSupport { return codec.SpliceKeyframeFlags }
func (h *keyframeHandler) NALLengthSize() int          { return 4 }

func (h *keyframeHandler) Classify(_ []byte, keyframe bool) media.PicType {
	if keyframe {
		return media.PicI
	}
	return media.PicP
}

func (h *keyframeHandler) SafeKeyframe(_ []byte) bool { return true }

func (h *keyframeHandler) ParameterSets(_ []byte) (*ParameterSets, error) {
	return &ParameterSets{NALLengthSize: 4}, nil
}

func (h *keyframeHandler) IsLeading(_ []byte) bool    { return false }
func (h *keyframeHandler) DropAtSplice(_ []byte) bool { return false }

func (h *keyframeHandler) RewriteSpliceStart(au []byte, _ bool) ([]byte, bool, error) {
	return au, false, nil
}

// genericHandler is the keyframe-only fallback for codecs outside the smart
// path. The planner refuses re-encode prefixes for it and cuts on keyframes
// with a warning.
type genericHandler struct {
	codec codec.Video
}

func (h *genericHandler) Codec() codec.Video          { return h.codec }
func (h *genericHandler) Splice() codec.SpliceSupport { return codec.SpliceNone }
func (h *genericHandler) NALLengthSize() int          { return 4 }

func (h *genericHandler) Classify(_ []byte, keyframe bool) media.PicType {
	if keyframe {
		return media.PicI
	}
	return media.PicP
}

func (h *genericHandler) SafeKeyframe(_ []byte) bool { return true }

func (h *genericHandler) ParameterSets(_ []byte) (*ParameterSets, error) {
	return &ParameterSets{NALLengthSize: 4}, nil
}

func (h *genericHandler) IsLeading(_ []byte) bool    { return false }
func (h *genericHandler) DropAtSplice(_ []byte) bool { return false }

func (h *genericHandler) RewriteSpliceStart(au []byte, _ bool) ([]byte, bool, error) {
	return au, false, nil
}

// ensure the variants satisfy the interface
var (
	_ Handler = (*h264Handler)(nil)
	_ Handler = (*h265Handler)(nil)
	_ Handler = (*keyframeHandler)(nil)
	_ Handler = (*genericHandler)(nil)
)

// HandlerForCodecID resolves a codec ID string to its handler.
func HandlerForCodecID(codecID string, extradata []byte) (Handler, error) {
	v, ok := codec.ParseVideo(codecID)
	if !ok {
		return &genericHandler{codec: codec.Video(codecID)}, nil
	}
	h, err := NewHandler(v, extradata)
	if err != nil {
		return nil, fmt.Errorf("building %s handler: %w", v, err)
	}
	return h, nil
}
