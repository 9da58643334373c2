package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
)

// ESDemuxer streams packets out of any input container by remuxing the
// selected streams into an MPEG-TS pipe (ffmpeg -c copy) and demuxing it with
// mediacommon. Timestamps come out in the 90 kHz TS clock; the caller owns
// rescaling into stream time bases.
type ESDemuxer struct {
	ffmpegPath string
	logger     *slog.Logger

	source  *Source
	streams []media.StreamDescriptor

	// OnPacket receives every demuxed packet in decode order per stream.
	// StreamIndex carries the original input stream index; timestamps are
	// 90 kHz.
	OnPacket func(pkt *media.Packet) error
}

// ESTimeBase is the time base of packets produced by the demuxer.
var ESTimeBase = media.TimeBase90k

// NewESDemuxer builds a demuxer over the given input streams. Streams whose
// codec the TS pipe cannot carry are rejected; callers route those through
// the packet indexer or the segment engine instead.
func NewESDemuxer(ffmpegPath string, source *Source, streams []media.StreamDescriptor, logger *slog.Logger) (*ESDemuxer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range streams {
		if !tsDemuxable(s) {
			return nil, fmt.Errorf("stream %d (%s) cannot travel the elementary-stream pipe", s.Index, s.CodecID)
		}
	}
	return &ESDemuxer{
		ffmpegPath: ffmpegPath,
		logger:     logger,
		source:     source,
		streams:    streams,
	}, nil
}

// tsDemuxable reports whether the stream can be carried over the TS pipe.
func tsDemuxable(s media.StreamDescriptor) bool {
	switch s.Kind {
	case media.StreamVideo:
		if v, ok := codec.ParseVideo(s.CodecID); ok {
			return v.IsTSDemuxable()
		}
	case media.StreamAudio:
		if a, ok := codec.ParseAudio(s.CodecID); ok {
			return a.IsTSDemuxable()
		}
	}
	return false
}

// Run performs one sequential demux pass over the whole file, invoking
// OnPacket for every packet. It returns when the input is exhausted, the
// callback errors, or the context is cancelled.
func (d *ESDemuxer) Run(ctx context.Context) error {
	builder := ffmpeg.NewCommandBuilder(d.ffmpegPath).
		HideBanner().
		Input(d.source.Path)

	for _, s := range d.streams {
		builder.OutputArgs("-map", "0:"+strconv.Itoa(s.Index))
	}
	builder.OutputArgs(
		"-c", "copy",
		"-copyts",
		"-avoid_negative_ts", "disabled",
		"-f", "mpegts",
	).Output("-")

	stdout, wait, err := builder.StartPipe(ctx, d.logger)
	if err != nil {
		return err
	}
	defer stdout.Close()

	if err := d.demux(ctx, stdout); err != nil {
		_ = wait()
		return err
	}
	return wait()
}

// demux reads the TS pipe until EOF.
func (d *ESDemuxer) demux(ctx context.Context, r io.Reader) error {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts reader: %w", err)
	}

	reader.OnDecodeError(func(err error) {
		d.logger.Warn("demux decode error", slog.String("error", err.Error()))
	})

	if err := d.bindTracks(reader); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// bindTracks pairs discovered TS tracks with the mapped input streams.
// ffmpeg assigns PIDs in mapping order, so sorting tracks by PID recovers
// the original association.
func (d *ESDemuxer) bindTracks(reader *mpegts.Reader) error {
	tracks := append([]*mpegts.Track(nil), reader.Tracks()...)
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].PID < tracks[j].PID })

	if len(tracks) != len(d.streams) {
		return fmt.Errorf("expected %d tracks on the pipe, found %d", len(d.streams), len(tracks))
	}

	for i, track := range tracks {
		desc := d.streams[i]
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			d.bindH264(reader, track, desc)
		case *mpegts.CodecH265:
			d.bindH265(reader, track, desc)
		case *mpegts.CodecMPEG4Audio:
			d.bindAudioGrouped(reader, track, desc, 1024)
		case *mpegts.CodecMPEG1Audio:
			d.bindMPEG1Audio(reader, track, desc)
		case *mpegts.CodecAC3:
			d.bindAC3(reader, track, desc)
		case *mpegts.CodecOpus:
			d.bindOpus(reader, track, desc)
		default:
			return fmt.Errorf("unsupported codec on pipe for stream %d: %T", desc.Index, track.Codec)
		}
	}
	return nil
}

func (d *ESDemuxer) bindH264(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor) {
	reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
		if len(au) == 0 {
			return nil
		}
		data, err := h264.AnnexB(au).Marshal()
		if err != nil || len(data) == 0 {
			return nil
		}
		return d.emit(desc, pts, dts, data, h264.IsRandomAccess(au))
	})
}

func (d *ESDemuxer) bindH265(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor) {
	reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
		if len(au) == 0 {
			return nil
		}
		data, err := h264.AnnexB(au).Marshal()
		if err != nil || len(data) == 0 {
			return nil
		}
		return d.emit(desc, pts, dts, data, h265.IsRandomAccess(au))
	})
}

// bindAudioGrouped handles codecs whose callback delivers several access
// units per PES packet, spaced by samplesPerFrame.
func (d *ESDemuxer) bindAudioGrouped(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor, samplesPerFrame int) {
	frameDur := audioFrameDuration(desc, samplesPerFrame)
	reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
		cur := pts
		for _, au := range aus {
			if len(au) == 0 {
				continue
			}
			if err := d.emitAudio(desc, cur, au, frameDur); err != nil {
				return err
			}
			cur += frameDur
		}
		return nil
	})
}

func (d *ESDemuxer) bindMPEG1Audio(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor) {
	frameDur := audioFrameDuration(desc, 1152)
	reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
		cur := pts
		for _, frame := range frames {
			if len(frame) == 0 {
				continue
			}
			if err := d.emitAudio(desc, cur, frame, frameDur); err != nil {
				return err
			}
			cur += frameDur
		}
		return nil
	})
}

func (d *ESDemuxer) bindAC3(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor) {
	frameDur := audioFrameDuration(desc, 1536)
	reader.OnDataAC3(track, func(pts int64, frame []byte) error {
		if len(frame) == 0 {
			return nil
		}
		return d.emitAudio(desc, pts, frame, frameDur)
	})
}

func (d *ESDemuxer) bindOpus(reader *mpegts.Reader, track *mpegts.Track, desc media.StreamDescriptor) {
	frameDur := audioFrameDuration(desc, 960)
	reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
		cur := pts
		for _, p := range packets {
			if len(p) == 0 {
				continue
			}
			if err := d.emitAudio(desc, cur, p, frameDur); err != nil {
				return err
			}
			cur += frameDur
		}
		return nil
	})
}

// audioFrameDuration returns one frame's duration in 90 kHz ticks.
func audioFrameDuration(desc media.StreamDescriptor, samplesPerFrame int) int64 {
	rate := desc.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	return int64(samplesPerFrame) * 90000 / int64(rate)
}

func (d *ESDemuxer) emit(desc media.StreamDescriptor, pts, dts int64, data []byte, keyframe bool) error {
	if d.OnPacket == nil {
		return nil
	}
	var flags media.PacketFlags
	if keyframe {
		flags = media.FlagKeyframe
	}
	return d.OnPacket(&media.Packet{
		StreamIndex: desc.Index,
		PTS:         pts,
		DTS:         dts,
		Flags:       flags,
		Data:        data,
	})
}

func (d *ESDemuxer) emitAudio(desc media.StreamDescriptor, pts int64, data []byte, duration int64) error {
	if d.OnPacket == nil {
		return nil
	}
	return d.OnPacket(&media.Packet{
		StreamIndex: desc.Index,
		PTS:         pts,
		DTS:         pts,
		Duration:    duration,
		Flags:       media.FlagKeyframe,
		Data:        data,
	})
}
