// Package plan computes per-interval splice plans: which packets are copied
// verbatim and which frames are re-encoded so the decoder resynchronizes at
// each cut-in point.
package plan

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/gop"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
)

// ErrGopTooLarge reports a re-encode decode window exceeding the configured
// frame cap.
var ErrGopTooLarge = errors.New("gop exceeds max_gop_frames")

// DecodeWindow is the DTS range the decoder must consume to reconstruct a
// re-encode segment, including reference priming.
type DecodeWindow struct {
	StartDTS int64 `yaml:"start_dts"`
	EndDTS   int64 `yaml:"end_dts"`
}

// SplicePlan describes how one output interval is assembled for the video
// stream.
type SplicePlan struct {
	Interval media.TimeInterval `yaml:"interval"`

	// CopyFromPTS is the first passthrough keyframe; media.NoTimestamp when
	// the whole interval is re-encoded.
	CopyFromPTS int64 `yaml:"copy_from_pts"`
	// CopyToPTS is the last copied frame's PTS; media.NoTimestamp when
	// nothing is copied.
	CopyToPTS int64 `yaml:"copy_to_pts"`

	// ReencodePrefix lists frame PTS in [Interval.Start, CopyFromPTS) in
	// display order.
	ReencodePrefix []int64 `yaml:"reencode_prefix,omitempty"`
	// ReencodeSuffix lists frame PTS in (CopyToPTS, Interval.End) in display
	// order.
	ReencodeSuffix []int64 `yaml:"reencode_suffix,omitempty"`

	// PrefixWindow and SuffixWindow are the decode ranges feeding the
	// re-encoder.
	PrefixWindow DecodeWindow `yaml:"prefix_window,omitempty"`
	SuffixWindow DecodeWindow `yaml:"suffix_window,omitempty"`

	// BoundaryEpoch is the parameter-set epoch of the copied run; the
	// re-encoder must produce matching decoder configuration.
	BoundaryEpoch int `yaml:"boundary_epoch"`
	// BoundaryParameterSets is that epoch's extradata.
	BoundaryParameterSets *nal.ParameterSets `yaml:"-"`

	// SpliceRewrite marks that the first copied access unit follows a
	// discontinuity and needs broken-link handling (CRA to BLA, RASL drop).
	SpliceRewrite bool `yaml:"splice_rewrite"`

	// KeyframeOnly marks the fallback path: boundaries snapped to keyframes,
	// nothing re-encoded.
	KeyframeOnly bool `yaml:"keyframe_only,omitempty"`
}

// HasCopy reports whether any packets are copied for this interval.
func (p *SplicePlan) HasCopy() bool { return p.CopyFromPTS != media.NoTimestamp }

// Planner computes splice plans against one video stream's GOP index.
type Planner struct {
	index   *gop.Index
	handler nal.Handler

	// KeyframeOnly forces GOP-boundary cutting with no re-encode.
	KeyframeOnly bool
	// MaxGOPFrames caps the decode window of any re-encode segment.
	MaxGOPFrames int
}

// NewPlanner builds a planner. The handler decides the codec's splice
// capability; SpliceNone codecs silently force keyframe-only mode.
func NewPlanner(index *gop.Index, handler nal.Handler, maxGOPFrames int) *Planner {
	return &Planner{
		index:        index,
		handler:      handler,
		KeyframeOnly: handler.Splice() == codec.SpliceNone,
		MaxGOPFrames: maxGOPFrames,
	}
}

// Plan computes the splice plan for one resolved interval.
func (p *Planner) Plan(interval media.TimeInterval) (*SplicePlan, error) {
	if p.KeyframeOnly {
		return p.planKeyframeOnly(interval), nil
	}

	sp := &SplicePlan{
		Interval:    interval,
		CopyFromPTS: media.NoTimestamp,
		CopyToPTS:   media.NoTimestamp,
	}

	kf, found := p.index.KeyframeAtOrAfter(interval.StartPTS)

	switch {
	case !found || kf.KeyframePTS >= interval.EndPTS:
		// No usable keyframe inside the interval: everything re-encodes.
		if err := p.fillFullReencode(sp); err != nil {
			return nil, err
		}
		return sp, nil

	case kf.KeyframePTS == interval.StartPTS && !kf.Open:
		// Clean entry: the interval starts exactly on a closed-GOP keyframe.
		sp.CopyFromPTS = kf.KeyframePTS

	case kf.KeyframePTS == interval.StartPTS && kf.Open:
		// Open GOP at the cut-in: the copied CRA needs broken-link handling
		// but its leading pictures display before the interval, so there is
		// nothing to re-encode.
		sp.CopyFromPTS = kf.KeyframePTS
		sp.SpliceRewrite = true

	default:
		sp.CopyFromPTS = kf.KeyframePTS
		sp.SpliceRewrite = kf.Open
		if err := p.fillPrefix(sp, kf); err != nil {
			return nil, err
		}
	}

	sp.BoundaryEpoch = kf.Epoch
	sp.BoundaryParameterSets = p.index.ExtradataForEpoch(kf.Epoch)

	if err := p.fillTail(sp); err != nil {
		return nil, err
	}

	return sp, nil
}

// fillFullReencode plans an interval that never reaches a copyable keyframe.
func (p *Planner) fillFullReencode(sp *SplicePlan) error {
	frames := p.index.FramesInRange(sp.Interval.StartPTS, sp.Interval.EndPTS)
	if len(frames) == 0 {
		return nil
	}
	for _, f := range frames {
		sp.ReencodePrefix = append(sp.ReencodePrefix, f.PTS)
	}
	window, err := p.decodeWindowFor(sp.Interval.StartPTS, frames[len(frames)-1].PTS)
	if err != nil {
		return err
	}
	sp.PrefixWindow = window

	entry, _, ok := p.index.EntryContaining(sp.Interval.StartPTS)
	if ok {
		sp.BoundaryEpoch = entry.Epoch
		sp.BoundaryParameterSets = p.index.ExtradataForEpoch(entry.Epoch)
	}
	return nil
}

// fillPrefix enumerates the display-order frames between the cut-in point and
// the first copyable keyframe, and widens the decode window back to the
// previous keyframe so references resolve.
func (p *Planner) fillPrefix(sp *SplicePlan, kf gop.Entry) error {
	frames := p.index.FramesInRange(sp.Interval.StartPTS, kf.KeyframePTS)
	for _, f := range frames {
		sp.ReencodePrefix = append(sp.ReencodePrefix, f.PTS)
	}
	if len(frames) == 0 {
		return nil
	}
	window, err := p.decodeWindowFor(sp.Interval.StartPTS, frames[len(frames)-1].PTS)
	if err != nil {
		return err
	}
	sp.PrefixWindow = window
	return nil
}

// decodeWindowFor computes the DTS window needed to decode display range
// [fromPTS, lastPTS], widened backward for open-GOP priming, and enforces
// the frame cap.
func (p *Planner) decodeWindowFor(fromPTS, lastPTS int64) (DecodeWindow, error) {
	entry, idx, ok := p.index.EntryContaining(fromPTS)
	if !ok {
		return DecodeWindow{}, fmt.Errorf("no GOP covers pts %d", fromPTS)
	}

	startDTS := entry.KeyframeDTS
	if entry.Open || entry.HasRASL {
		// References may live in the previous GOP; prime the decoder there.
		if prev, ok := p.index.EntryAt(idx - 1); ok {
			startDTS = prev.KeyframeDTS
		}
	}

	// The window must cover the decode of every frame displayed in range;
	// reordered frames (RASL, B) can decode later than the GOP entry's
	// bookkeeping suggests, so take the max DTS over the actual frames.
	endDTS := startDTS
	for _, f := range p.index.FramesInRange(fromPTS, lastPTS+1) {
		if f.DTS > endDTS {
			endDTS = f.DTS
		}
	}

	window := DecodeWindow{StartDTS: startDTS, EndDTS: endDTS}

	if p.MaxGOPFrames > 0 {
		n := 0
		for _, f := range p.index.Frames() {
			if f.DTS >= window.StartDTS && f.DTS <= window.EndDTS {
				n++
			}
		}
		if n > p.MaxGOPFrames {
			return DecodeWindow{}, fmt.Errorf("%w: window needs %d frames, cap is %d",
				ErrGopTooLarge, n, p.MaxGOPFrames)
		}
	}

	return window, nil
}

// fillTail finds the last safely copyable frame before the cut-out point and
// routes anything after it into the re-encode suffix.
func (p *Planner) fillTail(sp *SplicePlan) error {
	if !sp.HasCopy() {
		return nil
	}

	copyable := p.index.FramesInRange(sp.CopyFromPTS, sp.Interval.EndPTS)
	if len(copyable) == 0 {
		// The keyframe itself is the only candidate and sits past every
		// frame; degenerate but harmless.
		sp.CopyToPTS = sp.CopyFromPTS
		return nil
	}

	// Largest p <= end such that no frame with PTS > p has DTS <= p:
	// dropping packets after p must not starve any copied frame's decode.
	p.trimTrailingDependencies(sp, copyable)

	// Everything between the trimmed copy end and the cut-out re-encodes.
	if sp.CopyToPTS != media.NoTimestamp && sp.CopyToPTS < copyable[len(copyable)-1].PTS {
		for _, f := range copyable {
			if f.PTS > sp.CopyToPTS {
				sp.ReencodeSuffix = append(sp.ReencodeSuffix, f.PTS)
			}
		}
		first := sp.ReencodeSuffix[0]
		last := sp.ReencodeSuffix[len(sp.ReencodeSuffix)-1]
		window, err := p.decodeWindowFor(first, last)
		if err != nil {
			return err
		}
		sp.SuffixWindow = window
	}

	return nil
}

// trimTrailingDependencies sets CopyToPTS to the largest candidate such that
// no later frame decodes before it.
func (p *Planner) trimTrailingDependencies(sp *SplicePlan, copyable []gop.Frame) {
	for i := len(copyable) - 1; i >= 0; i-- {
		candidate := copyable[i].PTS
		if p.safeCopyEnd(candidate) {
			sp.CopyToPTS = candidate
			return
		}
	}

	// No frame of the copy run survives the dependency check; copy just the
	// keyframe and re-encode the rest.
	sp.CopyToPTS = sp.CopyFromPTS
}

// safeCopyEnd reports whether cutting the copied stream after display time p
// leaves no copied frame missing a reference: every frame with PTS > p must
// also have DTS > p.
func (p *Planner) safeCopyEnd(pts int64) bool {
	frames := p.index.Frames()
	// Frames displaying after pts but decoding at or before it are
	// interleaved B-frames; cutting would drop packets the copied run's
	// decode order already consumed.
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.PTS <= pts {
			// Display order is sorted; nothing earlier can violate.
			break
		}
		if f.DTS <= pts {
			return false
		}
	}
	return true
}

// planKeyframeOnly snaps both boundaries to GOP edges; nothing re-encodes.
func (p *Planner) planKeyframeOnly(interval media.TimeInterval) *SplicePlan {
	sp := &SplicePlan{
		Interval:     interval,
		CopyFromPTS:  media.NoTimestamp,
		CopyToPTS:    media.NoTimestamp,
		KeyframeOnly: true,
	}

	// Whole GOPs that overlap the interval are kept, so both boundaries
	// widen outward to GOP edges.
	start, _, ok := p.index.EntryContaining(interval.StartPTS)
	if !ok {
		return sp
	}
	sp.CopyFromPTS = start.KeyframePTS
	sp.BoundaryEpoch = start.Epoch
	sp.BoundaryParameterSets = p.index.ExtradataForEpoch(start.Epoch)
	sp.SpliceRewrite = start.Open

	end, _, ok := p.index.EntryContaining(interval.EndPTS - 1)
	if !ok {
		return sp
	}
	if end.NextKeyframePTS != media.NoTimestamp {
		if last, ok := p.index.LastFrameBefore(end.NextKeyframePTS); ok {
			sp.CopyToPTS = last.PTS
		}
	} else if frames := p.index.Frames(); len(frames) > 0 {
		sp.CopyToPTS = frames[len(frames)-1].PTS
	}
	return sp
}
