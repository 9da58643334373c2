package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
	"github.com/jmylchreest/framecut/internal/version"
)

// TSWriter writes the interleaved packet stream as MPEG-TS using mediacommon.
// It serves double duty: the final writer for .ts output, and the pipe leg of
// RemuxWriter for every other container.
type TSWriter struct {
	w      io.Writer
	logger *slog.Logger

	tracks  []*mpegts.Track
	streams map[int]*tsStream
	muxer   *mpegts.Writer
	nextPID uint16
}

type tsStream struct {
	desc  media.StreamDescriptor
	track *mpegts.Track
}

// NewTSWriter creates a TS writer over w.
func NewTSWriter(w io.Writer, logger *slog.Logger) *TSWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TSWriter{
		w:       w,
		logger:  logger,
		streams: make(map[int]*tsStream),
		nextPID: 0x100,
	}
}

// AddStream declares one output stream. Subtitle and data streams are not
// representable on the TS leg and are silently skipped here; RemuxWriter
// routes them through sidecars instead.
func (t *TSWriter) AddStream(desc media.StreamDescriptor) error {
	if t.muxer != nil {
		return fmt.Errorf("tswriter: stream %d added after first packet", desc.Index)
	}

	var c mpegts.Codec
	switch desc.Kind {
	case media.StreamVideo:
		v, ok := codec.ParseVideo(desc.CodecID)
		if !ok || !v.IsTSDemuxable() {
			return fmt.Errorf("tswriter: video codec %q not representable in MPEG-TS", desc.CodecID)
		}
		switch v {
		case codec.VideoH265:
			c = &mpegts.CodecH265{}
		default:
			c = &mpegts.CodecH264{}
		}
	case media.StreamAudio:
		a, ok := codec.ParseAudio(desc.CodecID)
		if !ok || !a.IsTSDemuxable() {
			return fmt.Errorf("tswriter: audio codec %q not representable in MPEG-TS", desc.CodecID)
		}
		switch a {
		case codec.AudioAAC:
			sampleRate := desc.SampleRate
			if sampleRate == 0 {
				sampleRate = 48000
			}
			channels := desc.Channels
			if channels == 0 {
				channels = 2
			}
			c = &mpegts.CodecMPEG4Audio{Config: mpeg4audio.Config{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   sampleRate,
				ChannelCount: channels,
			}}
		case codec.AudioAC3:
			c = &mpegts.CodecAC3{SampleRate: desc.SampleRate, ChannelCount: desc.Channels}
		case codec.AudioMP3:
			c = &mpegts.CodecMPEG1Audio{}
		case codec.AudioOpus:
			channels := desc.Channels
			if channels == 0 {
				channels = 2
			}
			c = &mpegts.CodecOpus{ChannelCount: channels}
		default:
			return fmt.Errorf("tswriter: audio codec %q not representable in MPEG-TS", desc.CodecID)
		}
	default:
		t.logger.Debug("skipping non-AV stream on TS leg", slog.Int("stream", desc.Index))
		return nil
	}

	track := &mpegts.Track{PID: t.nextPID, Codec: c}
	t.nextPID++
	t.tracks = append(t.tracks, track)
	t.streams[desc.Index] = &tsStream{desc: desc, track: track}
	return nil
}

// initialize creates the mediacommon writer once all tracks are declared.
func (t *TSWriter) initialize() error {
	if t.muxer != nil {
		return nil
	}
	if len(t.tracks) == 0 {
		return fmt.Errorf("tswriter: no representable streams")
	}
	t.muxer = &mpegts.Writer{W: t.w, Tracks: t.tracks}
	if err := t.muxer.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}
	return nil
}

// WritePacket writes one packet; timestamps are rescaled from the stream
// time base to the 90 kHz TS clock.
func (t *TSWriter) WritePacket(pkt *media.Packet) error {
	st, ok := t.streams[pkt.StreamIndex]
	if !ok {
		// Stream skipped at AddStream (subtitles on the TS leg).
		return nil
	}
	if err := t.initialize(); err != nil {
		return err
	}

	pts := media.Rescale(pkt.PTS, st.desc.TimeBase, media.TimeBase90k)
	dts := media.Rescale(pkt.DTS, st.desc.TimeBase, media.TimeBase90k)

	switch st.track.Codec.(type) {
	case *mpegts.CodecH264:
		au, err := nal.SplitAnnexB(pkt.Data)
		if err != nil {
			return err
		}
		return t.muxer.WriteH264(st.track, pts, dts, au)
	case *mpegts.CodecH265:
		au, err := nal.SplitAnnexB(pkt.Data)
		if err != nil {
			return err
		}
		return t.muxer.WriteH265(st.track, pts, dts, au)
	case *mpegts.CodecMPEG4Audio:
		return t.muxer.WriteMPEG4Audio(st.track, pts, [][]byte{pkt.Data})
	case *mpegts.CodecAC3:
		return t.muxer.WriteAC3(st.track, pts, pkt.Data)
	case *mpegts.CodecMPEG1Audio:
		return t.muxer.WriteMPEG1Audio(st.track, pts, [][]byte{pkt.Data})
	case *mpegts.CodecOpus:
		return t.muxer.WriteOpus(st.track, pts, [][]byte{pkt.Data})
	}
	return fmt.Errorf("tswriter: no writer for stream %d", pkt.StreamIndex)
}

// Finalize flushes the TS stream. Chapters and attachments have no TS
// representation; callers wanting them use RemuxWriter.
func (t *TSWriter) Finalize(_ []media.Chapter, _ []media.Attachment) error {
	if t.muxer == nil {
		return t.initialize()
	}
	return nil
}

// RemuxWriter produces any writable container by piping the TS leg into an
// ffmpeg remux, merging subtitle sidecars, chapters, and attachments at
// finalize.
type RemuxWriter struct {
	ffmpegPath string
	outputPath string
	target     codec.Container
	logger     *slog.Logger
	tempDir    string

	ts      *TSWriter
	pipe    io.WriteCloser
	wait    func() error
	started bool

	avStreams  []media.StreamDescriptor
	subStreams []media.StreamDescriptor
	// subPackets buffers trimmed subtitle packets per stream for the
	// sidecar render.
	subPackets map[int][]*media.Packet

	chapters    []media.Chapter
	attachments []media.Attachment
	metadata    map[string]string

	ctx context.Context
}

// NewRemuxWriter creates a writer for outputPath. The target container is
// derived from the file extension.
func NewRemuxWriter(ctx context.Context, ffmpegPath, outputPath string, logger *slog.Logger) (*RemuxWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target := codec.ParseContainer(filepath.Ext(outputPath))
	if target == codec.ContainerUnknown || !target.Writable() {
		return nil, fmt.Errorf("unsupported output container %q", filepath.Ext(outputPath))
	}

	tempDir, err := os.MkdirTemp("", "framecut-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	return &RemuxWriter{
		ffmpegPath: ffmpegPath,
		outputPath: outputPath,
		target:     target,
		logger:     logger,
		tempDir:    tempDir,
		subPackets: make(map[int][]*media.Packet),
		metadata:   map[string]string{"encoded_by": version.EncoderTag()},
		ctx:        ctx,
	}, nil
}

// SetMetadata adds container-level metadata.
func (r *RemuxWriter) SetMetadata(key, value string) {
	r.metadata[key] = value
}

// AddStream declares one output stream.
func (r *RemuxWriter) AddStream(desc media.StreamDescriptor) error {
	switch desc.Kind {
	case media.StreamVideo, media.StreamAudio:
		r.avStreams = append(r.avStreams, desc)
	case media.StreamSubtitle:
		if !textSubtitleCodec(desc.CodecID) {
			r.logger.Warn("dropping non-text subtitle stream",
				slog.Int("stream", desc.Index),
				slog.String("codec", desc.CodecID))
			return nil
		}
		r.subStreams = append(r.subStreams, desc)
	default:
		// Attachments travel via Finalize.
	}
	return nil
}

// textSubtitleCodec reports whether the codec's payloads are plain cue text.
func textSubtitleCodec(codecID string) bool {
	switch codecID {
	case "subrip", "srt", "text", "mov_text", "webvtt":
		return true
	default:
		return false
	}
}

// start launches the ffmpeg remux leg once the first packet arrives.
func (r *RemuxWriter) start() error {
	if r.started {
		return nil
	}
	r.started = true

	builder := ffmpeg.NewCommandBuilder(r.ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-f", "mpegts", "-copyts").
		Input("pipe:0").
		OutputArgs("-map", "0", "-c", "copy")

	// hev1 keeps parameter sets in band, which spliced HEVC streams rely on.
	if tag := r.target.HEVCTag(); tag != "" {
		for _, s := range r.avStreams {
			if v, ok := codec.ParseVideo(s.CodecID); ok && v == codec.VideoH265 {
				builder.OutputArgs("-tag:v", tag)
				break
			}
		}
	}

	builder.OutputArgs("-f", r.target.FFmpegMuxer())
	builder.Output(tempOutputPath(r.tempDir, r.outputPath))

	pipe, wait, err := builder.StartStdinPipe(r.ctx, r.logger)
	if err != nil {
		return err
	}
	r.pipe = pipe
	r.wait = wait
	r.ts = NewTSWriter(pipe, r.logger)
	for _, desc := range r.avStreams {
		if err := r.ts.AddStream(desc); err != nil {
			return err
		}
	}
	return nil
}

// tempOutputPath places the AV-only intermediate inside the temp dir.
func tempOutputPath(tempDir, outputPath string) string {
	return filepath.Join(tempDir, "av"+filepath.Ext(outputPath))
}

// WritePacket routes AV packets down the TS pipe and buffers subtitles.
func (r *RemuxWriter) WritePacket(pkt *media.Packet) error {
	for _, s := range r.subStreams {
		if s.Index == pkt.StreamIndex {
			r.subPackets[pkt.StreamIndex] = append(r.subPackets[pkt.StreamIndex], pkt)
			return nil
		}
	}
	if err := r.start(); err != nil {
		return err
	}
	return r.ts.WritePacket(pkt)
}

// Finalize closes the pipe, waits for the AV remux, then runs the merge pass
// attaching subtitles, chapters, dispositions, metadata, and attachments.
func (r *RemuxWriter) Finalize(chapters []media.Chapter, attachments []media.Attachment) error {
	defer os.RemoveAll(r.tempDir)

	if !r.started {
		return fmt.Errorf("no packets were written")
	}

	r.chapters = chapters
	r.attachments = attachments

	if err := r.pipe.Close(); err != nil {
		return fmt.Errorf("closing remux pipe: %w", err)
	}
	if err := r.wait(); err != nil {
		return err
	}

	return r.merge()
}

// merge assembles the final container from the AV intermediate plus
// sidecars.
func (r *RemuxWriter) merge() error {
	builder := ffmpeg.NewCommandBuilder(r.ffmpegPath).
		HideBanner().
		Overwrite().
		Input(tempOutputPath(r.tempDir, r.outputPath))

	type subInput struct {
		inputIdx int
		desc     media.StreamDescriptor
	}
	inputIdx := 1
	subInputs := make([]subInput, 0, len(r.subStreams))
	for _, desc := range r.subStreams {
		path, err := r.renderSubtitleSidecar(desc)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}
		builder.Input(path)
		subInputs = append(subInputs, subInput{inputIdx: inputIdx, desc: desc})
		inputIdx++
	}

	metaIdx := -1
	if len(r.chapters) > 0 {
		path, err := r.renderChapterMetadata()
		if err != nil {
			return err
		}
		builder.InputArgs("-f", "ffmetadata")
		builder.Input(path)
		metaIdx = inputIdx
		inputIdx++
	}

	builder.OutputArgs("-map", "0", "-c", "copy")
	for i, sub := range subInputs {
		builder.OutputArgs("-map", strconv.Itoa(sub.inputIdx))
		if r.target == codec.ContainerMP4 || r.target == codec.ContainerMOV {
			builder.OutputArgs("-c:s", "mov_text")
		} else {
			builder.OutputArgs("-c:s", "srt")
		}
		builder.OutputArgs(dispositionArgs(i, sub.desc.Disposition)...)
		if sub.desc.Language != "" {
			builder.OutputArgs("-metadata:s:s:"+strconv.Itoa(i), "language="+sub.desc.Language)
		}
	}
	if metaIdx >= 0 {
		builder.OutputArgs("-map_chapters", strconv.Itoa(metaIdx))
	}

	if r.target == codec.ContainerMKV || r.target == codec.ContainerWebM {
		for i, att := range r.attachments {
			path := filepath.Join(r.tempDir, fmt.Sprintf("att%d_%s", i, filepath.Base(att.Filename)))
			if err := os.WriteFile(path, att.Data, 0o600); err != nil {
				return fmt.Errorf("writing attachment: %w", err)
			}
			builder.OutputArgs("-attach", path)
			if att.MimeType != "" {
				builder.OutputArgs(fmt.Sprintf("-metadata:s:t:%d", i), "mimetype="+att.MimeType)
			}
		}
	}

	for k, v := range r.metadata {
		builder.OutputArgs("-metadata", k+"="+v)
	}

	builder.OutputArgs("-f", r.target.FFmpegMuxer())
	builder.Output(r.outputPath)

	return builder.Run(r.ctx, r.logger)
}

// dispositionArgs renders disposition flags for subtitle output stream i.
func dispositionArgs(i int, d media.Disposition) []string {
	var vals []string
	if d.Default {
		vals = append(vals, "default")
	}
	if d.Forced {
		vals = append(vals, "forced")
	}
	if d.HearingImpaired {
		vals = append(vals, "hearing_impaired")
	}
	if len(vals) == 0 {
		return nil
	}
	out := []string{"-disposition:s:" + strconv.Itoa(i)}
	disp := vals[0]
	for _, v := range vals[1:] {
		disp += "+" + v
	}
	return append(out, disp)
}
