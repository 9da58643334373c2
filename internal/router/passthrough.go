// Package router implements passthrough for non-video streams: audio,
// subtitles, and data packets are trimmed to each output interval and
// rebased into the output timeline, never re-encoded.
package router

import (
	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/media"
)

// Router trims and rebases one non-video stream. It carries output-position
// state across segments so consecutive intervals land back to back.
type Router struct {
	desc media.StreamDescriptor
	// refTimeBase is the reference video stream's time base, in which
	// intervals are expressed.
	refTimeBase media.Rational
	// preRoll is the priming window ahead of each interval, in stream ticks.
	// Packets inside it are emitted flagged discard.
	preRoll int64

	// segmentStartInOutput accumulates the output position, in stream ticks.
	segmentStartInOutput int64
	prevDTS              int64
	prevPTS              int64
}

// New builds a router for one stream. preRollMS is the priming window in
// milliseconds; audio codecs with known priming get at least their own
// priming duration.
func New(desc media.StreamDescriptor, refTimeBase media.Rational, preRollMS int) *Router {
	preRoll := media.Rescale(int64(preRollMS), media.Rational{Num: 1, Den: 1000}, desc.TimeBase)

	if desc.Kind == media.StreamAudio && desc.SampleRate > 0 {
		if a, ok := codec.ParseAudio(desc.CodecID); ok {
			if samples := a.PrimingSamples(); samples > 0 {
				primingTicks := media.Rescale(int64(samples),
					media.Rational{Num: 1, Den: int64(desc.SampleRate)}, desc.TimeBase)
				if primingTicks > preRoll {
					preRoll = primingTicks
				}
			}
		}
	}

	return &Router{
		desc:        desc,
		refTimeBase: refTimeBase,
		preRoll:     preRoll,
		prevDTS:     media.NoTimestamp,
		prevPTS:     media.NoTimestamp,
	}
}

// StreamIndex returns the input stream index this router serves.
func (r *Router) StreamIndex() int { return r.desc.Index }

// Segment selects the packets of one interval from the stream's packets
// (sorted by PTS) and returns rebased output packets. The interval is given
// in the reference time base.
func (r *Router) Segment(interval media.TimeInterval, packets []*media.Packet) []*media.Packet {
	startTicks := media.Rescale(interval.StartPTS, r.refTimeBase, r.desc.TimeBase)
	endTicks := media.Rescale(interval.EndPTS, r.refTimeBase, r.desc.TimeBase)

	var out []*media.Packet
	for _, pkt := range packets {
		if pkt.PTS == media.NoTimestamp {
			continue
		}
		if pkt.PTS < startTicks-r.preRoll || pkt.PTS >= endTicks {
			continue
		}

		op := pkt.Clone()
		if pkt.PTS < startTicks {
			// Priming packet: decoders may drop it, muxers still see
			// continuity.
			op.Flags |= media.FlagDiscard
		}

		offset := r.segmentStartInOutput - startTicks
		op.PTS = pkt.PTS + offset
		if pkt.DTS != media.NoTimestamp {
			op.DTS = pkt.DTS + offset
		} else {
			op.DTS = op.PTS
		}

		// Keep per-stream timestamps strictly monotonic across segment
		// boundaries.
		if r.prevPTS != media.NoTimestamp && op.PTS <= r.prevPTS {
			op.PTS = r.prevPTS + 1
		}
		if r.prevDTS != media.NoTimestamp && op.DTS <= r.prevDTS {
			op.DTS = r.prevDTS + 1
		}
		if op.PTS < op.DTS {
			op.PTS = op.DTS
		}
		r.prevPTS = op.PTS
		r.prevDTS = op.DTS

		out = append(out, op)
	}

	r.segmentStartInOutput += endTicks - startTicks
	return out
}

// PreRoll returns the priming window in stream ticks.
func (r *Router) PreRoll() int64 { return r.preRoll }
