package gop

import (
	"sort"

	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
)

// Builder consumes one stream's packets in decode order and produces an
// Index. Packets may carry full payloads (NAL-aware codecs) or timing only
// (keyframe-flag codecs); the handler decides how much gets inspected.
type Builder struct {
	handler  nal.Handler
	timeBase media.Rational
	epochs   *nal.EpochTracker

	entries []Entry
	frames  []Frame

	firstKeyframeSeen bool
	minReorder        int64
	maxReorder        int64
}

// NewBuilder starts a scan. extradata seeds epoch 1 when the container
// carries out-of-band parameter sets.
func NewBuilder(handler nal.Handler, timeBase media.Rational, extradata []byte) (*Builder, error) {
	b := &Builder{
		handler:  handler,
		timeBase: timeBase,
		epochs:   nal.NewEpochTracker(),
	}
	if len(extradata) > 0 {
		ps, err := nal.ParseExtradata(string(handler.Codec()), extradata)
		if err != nil {
			return nil, err
		}
		b.epochs.Observe(ps)
	}
	return b, nil
}

// Add records one packet. Packets must arrive in decode (DTS) order.
func (b *Builder) Add(pkt *media.Packet) error {
	pts := pkt.PTS
	dts := pkt.DTS
	if dts == media.NoTimestamp {
		dts = pts
	}

	picType := pkt.PicType
	if picType == "" {
		picType = b.handler.Classify(pkt.Data, pkt.Keyframe())
	}

	if off := pts - dts; len(b.frames) == 0 || off < b.minReorder {
		b.minReorder = off
	}
	if off := pts - dts; off > b.maxReorder {
		b.maxReorder = off
	}

	startsGOP := false
	if pkt.Keyframe() {
		// The very first keyframe always opens GOP 0, whatever its NAL
		// makeup; later keyframes must be splice-safe to become boundaries.
		if !b.firstKeyframeSeen {
			b.firstKeyframeSeen = true
			startsGOP = true
		} else if b.handler.SafeKeyframe(pkt.Data) {
			startsGOP = true
		}
	}

	if startsGOP {
		epoch := b.epochs.Current()
		if len(pkt.Data) > 0 {
			if ps, err := b.handler.ParameterSets(pkt.Data); err == nil {
				epoch = b.epochs.Observe(ps)
			}
		}
		if epoch == 0 {
			epoch = 1
		}
		b.entries = append(b.entries, Entry{
			KeyframePTS:     pts,
			KeyframeDTS:     dts,
			NextKeyframePTS: media.NoTimestamp,
			EndDTS:          dts,
			StartPicType:    picType,
			Open:            picType == media.PicCRA,
			Epoch:           epoch,
		})
	}

	gopIdx := len(b.entries) - 1
	if gopIdx >= 0 {
		entry := &b.entries[gopIdx]
		if dts > entry.EndDTS {
			entry.EndDTS = dts
		}
		switch picType {
		case media.PicRASL:
			entry.HasRASL = true
			entry.Open = true
		case media.PicB:
			// H.264 leading pictures: display before their keyframe means
			// the GOP references backwards.
			if pts < entry.KeyframePTS {
				entry.Open = true
			}
		}
		b.frames = append(b.frames, Frame{
			PTS:      pts,
			DTS:      dts,
			Duration: pkt.Duration,
			Keyframe: pkt.Keyframe(),
			PicType:  picType,
			GOP:      gopIdx,
		})
	}

	return nil
}

// Finish closes the scan and returns the index.
func (b *Builder) Finish() *Index {
	for i := range b.entries {
		if i+1 < len(b.entries) {
			b.entries[i].NextKeyframePTS = b.entries[i+1].KeyframePTS
		}
	}

	frames := b.frames
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].PTS < frames[j].PTS })

	return &Index{
		TimeBase:   b.timeBase,
		entries:    b.entries,
		frames:     frames,
		epochs:     b.epochs,
		minReorder: b.minReorder,
		maxReorder: b.maxReorder,
	}
}
