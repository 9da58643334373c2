package nal

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/media"
)

// Surgeon rewrites video access units at splice boundaries for one stream.
// It owns framing conversion (Annex B vs length-prefixed), parameter-set
// injection, CRA/RASL handling, and sequencing validation.
type Surgeon struct {
	handler Handler
	epochs  *EpochTracker

	// annexBOut selects Annex B framing for emitted access units; false
	// emits 4-byte length prefixes.
	annexBOut bool

	// lastEmittedEpoch tracks which epoch's parameter sets were last written
	// ahead of a slice, so epoch changes re-emit them exactly once.
	lastEmittedEpoch int

	// spliceOpen is set from StartSplice until the first copied picture after
	// the splice-start access unit that is not a leading picture.
	spliceOpen  bool
	spliceFresh bool
	hadPrefix   bool
}

// NewSurgeon builds a surgeon for one video stream.
func NewSurgeon(handler Handler, epochs *EpochTracker, annexBOut bool) *Surgeon {
	if epochs == nil {
		epochs = NewEpochTracker()
	}
	return &Surgeon{
		handler:   handler,
		epochs:    epochs,
		annexBOut: annexBOut,
	}
}

// Handler returns the codec handler the surgeon operates with.
func (s *Surgeon) Handler() Handler { return s.handler }

// StartSplice marks the start of a copied run that follows a cut or a
// re-encoded prefix. hadPrefix selects broken-link semantics for a leading
// CRA (the decoder saw unrelated frames just before it).
func (s *Surgeon) StartSplice(hadPrefix bool) {
	s.spliceOpen = true
	s.spliceFresh = true
	s.hadPrefix = hadPrefix
}

// ProcessCopied rewrites one copied packet for output. A nil return with no
// error means the packet is dropped (RASL after a spliced CRA).
func (s *Surgeon) ProcessCopied(pkt *media.Packet) (*media.Packet, error) {
	if s.handler.Splice() != codec.SpliceNALAware {
		return pkt, nil
	}

	data := pkt.Data

	if s.spliceOpen {
		if s.spliceFresh {
			s.spliceFresh = false
			// A CRA at a stream start keeps its semantics; only a
			// discontinuity (re-encoded prefix or dropped content) breaks
			// the link.
			if s.hadPrefix {
				rewritten, changed, err := s.handler.RewriteSpliceStart(data, s.leadingFollows(pkt))
				if err != nil {
					return nil, err
				}
				if changed {
					pkt = pkt.Clone()
					pkt.Data = rewritten
					pkt.PicType = media.PicBLA
					data = rewritten
				}
			}
			// Splice handling continues until the leading pictures attached
			// to this random-access point have passed.
		} else if s.handler.DropAtSplice(data) {
			if s.hadPrefix {
				// RASL attached to a CRA that is now mid-stream: references
				// are gone, drop it.
				return nil, nil
			}
		} else if !s.handler.IsLeading(data) {
			s.spliceOpen = false
		}
	}

	out, err := s.finishPacket(pkt)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// leadingFollows guesses whether leading pictures follow the splice-start AU.
// B-frame reordering shows up as pts != dts on the random-access picture.
func (s *Surgeon) leadingFollows(pkt *media.Packet) bool {
	return pkt.PTS != pkt.DTS
}

// ProcessEncoded rewrites one encoder-produced packet. first marks the first
// packet of the re-encoded run, which gets the encoder's parameter sets
// prepended if they are not already in band.
func (s *Surgeon) ProcessEncoded(pkt *media.Packet, first bool, encoderPS *ParameterSets) (*media.Packet, error) {
	if s.handler.Splice() != codec.SpliceNALAware {
		return pkt, nil
	}

	if first && encoderPS != nil && !encoderPS.Empty() {
		nalus, err := Split(pkt.Data, encoderPS.NALLengthSize)
		if err != nil {
			return nil, err
		}
		inband, err := s.handler.ParameterSets(pkt.Data)
		if err != nil {
			return nil, err
		}
		if inband.Empty() {
			merged := make([][]byte, 0, len(nalus)+3)
			merged = append(merged, encoderPS.InOrder()...)
			merged = append(merged, nalus...)
			data, err := s.marshal(merged)
			if err != nil {
				return nil, err
			}
			pkt = pkt.Clone()
			pkt.Data = data
		}
	}

	return s.finishPacket(pkt)
}

// finishPacket applies epoch bookkeeping, framing conversion, and validation.
func (s *Surgeon) finishPacket(pkt *media.Packet) (*media.Packet, error) {
	nalus, err := s.split(pkt.Data)
	if err != nil {
		return nil, err
	}

	ps, err := s.handler.ParameterSets(pkt.Data)
	if err != nil {
		return nil, err
	}
	epoch := s.epochs.Observe(ps)

	// Re-emit the current epoch's parameter sets when the stream switches
	// configurations without carrying them in band.
	if pkt.Keyframe() && ps.Empty() && pkt.Epoch != 0 && pkt.Epoch != s.lastEmittedEpoch {
		if known := s.epochs.ExtradataForEpoch(pkt.Epoch); known != nil && !known.Empty() {
			nalus = append(known.InOrder(), nalus...)
			epoch = pkt.Epoch
		}
	}
	if !ps.Empty() || pkt.Epoch != 0 {
		s.lastEmittedEpoch = epoch
	}

	if err := s.validate(nalus); err != nil {
		return nil, err
	}

	data, err := s.marshal(nalus)
	if err != nil {
		return nil, err
	}

	out := *pkt
	out.Data = data
	if out.Epoch == 0 {
		out.Epoch = epoch
	}
	return &out, nil
}

func (s *Surgeon) split(data []byte) ([][]byte, error) {
	return Split(data, s.handler.NALLengthSize())
}

func (s *Surgeon) marshal(nalus [][]byte) ([]byte, error) {
	if s.annexBOut {
		return MarshalAnnexB(nalus)
	}
	return MarshalLengthPrefixed(nalus)
}

// validate checks NAL sequencing: parameter sets and prefix metadata must
// precede slices (VPS, SPS, PPS, AUD, SEI, then VCL for HEVC; SPS, PPS, AUD,
// SEI, then VCL for H.264).
func (s *Surgeon) validate(nalus [][]byte) error {
	switch s.handler.Codec() {
	case codec.VideoH265:
		return validateH265Sequencing(nalus)
	case codec.VideoH264:
		return validateH264Sequencing(nalus)
	default:
		return nil
	}
}

func validateH264Sequencing(nalus [][]byte) error {
	sawSlice := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			return fmt.Errorf("%w: empty NAL unit", ErrMalformed)
		}
		switch h264Type(nalu) {
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSEI:
			if sawSlice {
				return fmt.Errorf("%w: %v after slice data", ErrMalformed, h264Type(nalu))
			}
		case h264.NALUTypeIDR, h264.NALUTypeNonIDR,
			h264.NALUTypeDataPartitionA, h264.NALUTypeDataPartitionB, h264.NALUTypeDataPartitionC:
			sawSlice = true
		}
	}
	return nil
}

func validateH265Sequencing(nalus [][]byte) error {
	sawSlice := false
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			return fmt.Errorf("%w: empty NAL unit", ErrMalformed)
		}
		t := h265Type(nalu)
		switch {
		case t == h265.NALUType_VPS_NUT || t == h265.NALUType_SPS_NUT ||
			t == h265.NALUType_PPS_NUT || t == h265.NALUType_AUD_NUT ||
			t == h265.NALUType_PREFIX_SEI_NUT:
			if sawSlice {
				return fmt.Errorf("%w: %v after slice data", ErrMalformed, t)
			}
		case t <= h265.NALUType_RSV_IRAP_VCL23:
			sawSlice = true
		}
	}
	return nil
}
