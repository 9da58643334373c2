// Package gop builds and queries the per-stream GOP index: keyframe
// positions, decode windows, open-GOP classification, and parameter-set
// epochs. A cold scan is O(packets); queries are O(log keyframes).
package gop

import (
	"sort"

	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
)

// Entry describes one GOP: the run from a splice-safe keyframe up to (not
// including) the next one.
type Entry struct {
	// KeyframePTS is the presentation time of the GOP's keyframe.
	KeyframePTS int64
	// KeyframeDTS is its decode time; the GOP's decode window starts here.
	KeyframeDTS int64
	// NextKeyframePTS is the next GOP's keyframe PTS, or media.NoTimestamp
	// for the last GOP.
	NextKeyframePTS int64
	// EndDTS is the DTS of the last packet belonging to this GOP.
	EndDTS int64
	// Open marks a GOP whose pictures may reference the preceding GOP.
	Open bool
	// HasRASL marks an H.265 GOP carrying RASL leading pictures.
	HasRASL bool
	// StartPicType is the picture type of the keyframe (IDR, CRA, I...).
	StartPicType media.PicType
	// Epoch is the parameter-set epoch in effect from this keyframe on.
	Epoch int
}

// Frame is one video packet's timing as recorded during the scan.
type Frame struct {
	PTS      int64
	DTS      int64
	Duration int64
	Keyframe bool
	PicType  media.PicType
	// GOP is the index of the Entry the frame belongs to.
	GOP int
}

// Index is the queryable result of a scan over one video stream.
type Index struct {
	TimeBase media.Rational

	entries []Entry
	// frames sorted by PTS
	frames []Frame
	epochs *nal.EpochTracker
	// maxReorder is the largest observed pts-dts offset in stream ticks.
	maxReorder int64
	minReorder int64
}

// Entries returns all GOP entries in keyframe order.
func (x *Index) Entries() []Entry { return x.entries }

// Frames returns all frames in presentation order.
func (x *Index) Frames() []Frame { return x.frames }

// ReorderBounds returns the smallest and largest pts−dts offset observed.
func (x *Index) ReorderBounds() (min, max int64) { return x.minReorder, x.maxReorder }

// KeyframeAtOrAfter returns the first GOP whose keyframe PTS is >= pts.
func (x *Index) KeyframeAtOrAfter(pts int64) (Entry, bool) {
	i := sort.Search(len(x.entries), func(i int) bool {
		return x.entries[i].KeyframePTS >= pts
	})
	if i == len(x.entries) {
		return Entry{}, false
	}
	return x.entries[i], true
}

// EntryContaining returns the GOP whose display range covers pts.
func (x *Index) EntryContaining(pts int64) (Entry, int, bool) {
	i := sort.Search(len(x.entries), func(i int) bool {
		return x.entries[i].KeyframePTS > pts
	})
	if i == 0 {
		// Leading pictures of an open first GOP can display before their
		// keyframe; they still belong to GOP 0.
		if len(x.entries) > 0 {
			return x.entries[0], 0, true
		}
		return Entry{}, 0, false
	}
	return x.entries[i-1], i - 1, true
}

// EntryAt returns the entry at a GOP index.
func (x *Index) EntryAt(i int) (Entry, bool) {
	if i < 0 || i >= len(x.entries) {
		return Entry{}, false
	}
	return x.entries[i], true
}

// Classify returns the picture type of the frame displayed at pts.
func (x *Index) Classify(pts int64) (media.PicType, bool) {
	i := sort.Search(len(x.frames), func(i int) bool {
		return x.frames[i].PTS >= pts
	})
	if i == len(x.frames) || x.frames[i].PTS != pts {
		return "", false
	}
	return x.frames[i].PicType, true
}

// FramesInRange returns frames with start <= PTS < end in display order.
func (x *Index) FramesInRange(start, end int64) []Frame {
	lo := sort.Search(len(x.frames), func(i int) bool { return x.frames[i].PTS >= start })
	hi := sort.Search(len(x.frames), func(i int) bool { return x.frames[i].PTS >= end })
	return x.frames[lo:hi]
}

// FrameAtOrAfter returns the first frame with PTS >= pts.
func (x *Index) FrameAtOrAfter(pts int64) (Frame, bool) {
	i := sort.Search(len(x.frames), func(i int) bool { return x.frames[i].PTS >= pts })
	if i == len(x.frames) {
		return Frame{}, false
	}
	return x.frames[i], true
}

// LastFrameBefore returns the last frame with PTS < pts.
func (x *Index) LastFrameBefore(pts int64) (Frame, bool) {
	i := sort.Search(len(x.frames), func(i int) bool { return x.frames[i].PTS >= pts })
	if i == 0 {
		return Frame{}, false
	}
	return x.frames[i-1], true
}

// ExtradataForEpoch returns the parameter sets recorded for an epoch.
func (x *Index) ExtradataForEpoch(epoch int) *nal.ParameterSets {
	return x.epochs.ExtradataForEpoch(epoch)
}

// Epochs returns the tracker carrying every epoch observed during the scan.
func (x *Index) Epochs() *nal.EpochTracker { return x.epochs }

// Duration returns the PTS just past the last frame.
func (x *Index) Duration() int64 {
	if len(x.frames) == 0 {
		return 0
	}
	last := x.frames[len(x.frames)-1]
	if last.Duration > 0 {
		return last.PTS + last.Duration
	}
	return last.PTS + 1
}
