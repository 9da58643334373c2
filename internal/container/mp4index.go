package container

import (
	"fmt"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"github.com/jmylchreest/framecut/internal/media"
)

// MP4TrackIndex is the sample-table view of one ISO-BMFF track: enough to
// place every sample and its sync flag without demuxing payloads. It backs
// the GOP scan for codecs the elementary-stream pipe cannot carry (VP9, AV1
// in MP4/MOV) and lets the planner snap to sync samples in O(table) time.
type MP4TrackIndex struct {
	TrackID   uint32
	Timescale uint32
	Handler   string
	// DTS per sample, in track timescale ticks.
	SampleDTS []int64
	// SampleDurations per sample.
	SampleDurations []int64
	// SyncSamples holds 1-based sample numbers; empty means every sample is
	// a sync sample (no stss box).
	SyncSamples []uint32
}

// Packets renders the track index as timing-only packets (no payloads).
func (t *MP4TrackIndex) Packets(streamIndex int) []*media.Packet {
	sync := make(map[uint32]bool, len(t.SyncSamples))
	for _, n := range t.SyncSamples {
		sync[n] = true
	}
	allSync := len(t.SyncSamples) == 0

	out := make([]*media.Packet, len(t.SampleDTS))
	for i := range t.SampleDTS {
		var flags media.PacketFlags
		if allSync || sync[uint32(i+1)] {
			flags = media.FlagKeyframe
		}
		out[i] = &media.Packet{
			StreamIndex: streamIndex,
			PTS:         t.SampleDTS[i],
			DTS:         t.SampleDTS[i],
			Duration:    t.SampleDurations[i],
			Flags:       flags,
		}
	}
	return out
}

// TimeBase returns the track's time base.
func (t *MP4TrackIndex) TimeBase() media.Rational {
	return media.Rational{Num: 1, Den: int64(t.Timescale)}
}

// IndexMP4 walks the moov sample tables of an ISO-BMFF file and returns one
// index per track, in trak order.
func IndexMP4(path string) ([]*MP4TrackIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var tracks []*MP4TrackIndex
	var current *MP4TrackIndex

	_, err = gomp4.ReadBoxStructure(f, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl():
			return h.Expand()

		case gomp4.BoxTypeTrak():
			current = &MP4TrackIndex{}
			tracks = append(tracks, current)
			return h.Expand()

		case gomp4.BoxTypeTkhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if tkhd, ok := box.(*gomp4.Tkhd); ok && current != nil {
				current.TrackID = tkhd.TrackID
			}
			return nil, nil

		case gomp4.BoxTypeMdhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if mdhd, ok := box.(*gomp4.Mdhd); ok && current != nil {
				current.Timescale = mdhd.Timescale
			}
			return nil, nil

		case gomp4.BoxTypeHdlr():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if hdlr, ok := box.(*gomp4.Hdlr); ok && current != nil {
				current.Handler = string(hdlr.HandlerType[:])
			}
			return nil, nil

		case gomp4.BoxTypeStts():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stts, ok := box.(*gomp4.Stts); ok && current != nil {
				dts := int64(0)
				for _, e := range stts.Entries {
					for i := uint32(0); i < e.SampleCount; i++ {
						current.SampleDTS = append(current.SampleDTS, dts)
						current.SampleDurations = append(current.SampleDurations, int64(e.SampleDelta))
						dts += int64(e.SampleDelta)
					}
				}
			}
			return nil, nil

		case gomp4.BoxTypeStss():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if stss, ok := box.(*gomp4.Stss); ok && current != nil {
				current.SyncSamples = append(current.SyncSamples, stss.SampleNumber...)
			}
			return nil, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path, err)
	}

	return tracks, nil
}

// VideoTrack returns the first video ('vide') track index, or nil.
func VideoTrack(tracks []*MP4TrackIndex) *MP4TrackIndex {
	for _, t := range tracks {
		if t.Handler == "vide" {
			return t
		}
	}
	return nil
}
