package cut

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/container"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/mux"
	"github.com/jmylchreest/framecut/internal/nal"
	"github.com/jmylchreest/framecut/internal/plan"
	"github.com/jmylchreest/framecut/internal/reencode"
	"github.com/jmylchreest/framecut/internal/router"
)

// packetEngine executes splice plans at the packet level: one sequential
// demux pass streams copied video and passthrough audio while boundary
// re-encodes run as they are needed. This is the smart-cut path for H.264
// and H.265, and the whole path for audio-only inputs.
type packetEngine struct {
	job        *Job
	outputPath string

	sched   *mux.Scheduler
	surgeon *nal.Surgeon
	encoder *reencode.Engine

	plans     []*plan.SplicePlan
	intervals []media.TimeInterval

	// per-plan derived copy windows (DTS bounds in index ticks)
	copyStartDTS []int64

	// state of the streaming video pass
	planIdx    int
	inCopy     bool
	outputPos  int64 // accumulated output position, index ticks

	// audio buffered during the pass, per stream index
	audioBuf    map[int][]*media.Packet
	audioRouted int // plans whose audio has been flushed
	routers     map[int]*router.Router
	audioDescs  []media.StreamDescriptor
	subDescs    []media.StreamDescriptor
	subPackets  map[int][]*media.Packet
}

// run drives the whole engine. plans is nil for audio-only inputs.
func (e *packetEngine) run(ctx context.Context, plans []*plan.SplicePlan, intervals []media.TimeInterval) error {
	j := e.job
	e.plans = plans
	e.intervals = intervals
	e.audioBuf = make(map[int][]*media.Packet)
	e.subPackets = make(map[int][]*media.Packet)
	e.routers = make(map[int]*router.Router)

	writer, err := e.openWriter(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	e.sched = mux.NewScheduler(writer, j.logger, j.opts.PreserveTimestamps, j.opts.QueueDepth)

	if err := e.declareStreams(); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	if j.refVideo != nil {
		e.surgeon = nal.NewSurgeon(j.handler, j.index.Epochs(), true)
		e.encoder = reencode.NewEngine(j.ffmpegPath, j.opts.Quality, j.logger)
		e.deriveCopyWindows()
	}

	if err := e.collectSubtitles(ctx); err != nil {
		return err
	}

	runErr := e.streamPass(ctx)
	if runErr != nil && !errors.Is(runErr, ErrCancelled) {
		return runErr
	}

	// On cancellation the container is still finalized, truncated to the
	// last muxed packet; partial outputs are kept.
	if err := e.finish(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// openWriter picks the TS writer for .ts output, the remux writer otherwise.
func (e *packetEngine) openWriter(ctx context.Context) (mux.Writer, error) {
	target := codec.ParseContainer(filepath.Ext(e.outputPath))
	if target == codec.ContainerMPEGTS {
		f, err := newFileTSWriter(e.outputPath, e.job.logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return container.NewRemuxWriter(ctx, e.job.ffmpegPath, e.outputPath, e.job.logger)
}

// declareStreams adds the retained streams to the scheduler. Streams whose
// packets travel the elementary-stream pipe are re-based to its 90 kHz
// clock.
func (e *packetEngine) declareStreams() error {
	j := e.job

	if j.refVideo != nil {
		desc := *j.refVideo
		desc.TimeBase = j.indexTB
		if err := e.sched.AddStream(desc); err != nil {
			return err
		}
	}

	for _, a := range j.source.StreamsOfKind(media.StreamAudio) {
		if !audioOnPipe(a) {
			j.logger.Warn("audio codec cannot pass through, dropping stream",
				slog.Int("stream", a.Index),
				slog.String("codec", a.CodecID))
			continue
		}
		desc := a
		desc.TimeBase = container.ESTimeBase
		if err := e.sched.AddStream(desc); err != nil {
			return err
		}
		e.audioDescs = append(e.audioDescs, desc)
		e.routers[desc.Index] = router.New(desc, e.intervalTB(), j.opts.AudioPreRollMS)
	}

	for _, s := range j.source.StreamsOfKind(media.StreamSubtitle) {
		if err := e.sched.AddStream(s); err != nil {
			return err
		}
		e.subDescs = append(e.subDescs, s)
		e.routers[s.Index] = router.New(s, e.intervalTB(), 0)
	}

	return nil
}

// intervalTB is the time base intervals are expressed in.
func (e *packetEngine) intervalTB() media.Rational {
	return e.job.indexTB
}

// audioOnPipe reports whether the stream rides the elementary-stream pipe.
func audioOnPipe(desc media.StreamDescriptor) bool {
	a, ok := codec.ParseAudio(desc.CodecID)
	return ok && a.IsTSDemuxable()
}

// deriveCopyWindows precomputes each plan's copy-start DTS.
func (e *packetEngine) deriveCopyWindows() {
	e.copyStartDTS = make([]int64, len(e.plans))
	for i, p := range e.plans {
		e.copyStartDTS[i] = media.NoTimestamp
		if !p.HasCopy() {
			continue
		}
		if entry, ok := e.job.index.KeyframeAtOrAfter(p.CopyFromPTS); ok && entry.KeyframePTS == p.CopyFromPTS {
			e.copyStartDTS[i] = entry.KeyframeDTS
		}
	}
}

// collectSubtitles loads subtitle packets up front; they are sparse enough
// to buffer whole.
func (e *packetEngine) collectSubtitles(ctx context.Context) error {
	j := e.job
	if len(e.subDescs) == 0 {
		return nil
	}

	if isTSFamily(j.source.Format) {
		reader := container.NewTSSubtitleReader(j.opts.InputPath, j.logger)
		pids, err := reader.SubtitlePIDs(ctx, e.subDescs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
		}
		packets, err := reader.Read(ctx, pids)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
		}
		// TS subtitle PES timestamps are 90 kHz; the descriptors on the
		// scheduler keep their probed (identical) base.
		e.subPackets = packets
		return nil
	}

	indexer := container.NewPacketIndexer(j.ffprobePath)
	for _, desc := range e.subDescs {
		packets, err := indexer.Index(ctx, j.opts.InputPath, desc.Index, true)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
		}
		e.subPackets[desc.Index] = packets
	}
	return nil
}

// isTSFamily reports whether the input container is MPEG-TS based.
func isTSFamily(format string) bool {
	return strings.Contains(format, "mpegts")
}

// streamPass runs the single sequential demux pass feeding video and pipe
// audio through the engine.
func (e *packetEngine) streamPass(ctx context.Context) error {
	j := e.job

	var pipeStreams []media.StreamDescriptor
	if j.refVideo != nil {
		pipeStreams = append(pipeStreams, *j.refVideo)
	}
	for _, desc := range e.audioDescs {
		if audioOnPipe(desc) {
			pipeStreams = append(pipeStreams, desc)
		}
	}
	if len(pipeStreams) == 0 {
		return e.finishVideoPass(ctx)
	}

	demux, err := container.NewESDemuxer(j.ffmpegPath, j.source, pipeStreams, j.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	demux.OnPacket = func(pkt *media.Packet) error {
		if j.isCancelled() {
			return ErrCancelled
		}
		if pkt.Flags.Has(media.FlagCorrupt) {
			j.logger.Warn("skipping corrupt packet",
				slog.Int("stream", pkt.StreamIndex), slog.Int64("pts", pkt.PTS))
			return nil
		}
		if j.refVideo != nil && pkt.StreamIndex == j.refVideo.Index {
			return e.onVideoPacket(ctx, pkt)
		}
		e.audioBuf[pkt.StreamIndex] = append(e.audioBuf[pkt.StreamIndex], pkt)
		return nil
	}

	if err := demux.Run(ctx); err != nil {
		if j.isCancelled() || errors.Is(err, ErrCancelled) {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}

	return e.finishVideoPass(ctx)
}

// onVideoPacket advances the per-plan state machine with one copied-stream
// candidate.
func (e *packetEngine) onVideoPacket(ctx context.Context, pkt *media.Packet) error {
	for e.planIdx < len(e.plans) {
		p := e.plans[e.planIdx]

		if !p.HasCopy() {
			// Fully re-encoded interval: no packets to copy; emit the
			// segment once the stream has decoded past it.
			if pkt.DTS >= dtsAfterInterval(e.job, p) {
				if err := e.emitFullReencode(ctx, p); err != nil {
					return err
				}
				e.advancePlan(p)
				continue
			}
			return nil
		}

		start := e.copyStartDTS[e.planIdx]
		end := p.CopyToPTS

		if !e.inCopy {
			if pkt.DTS < start {
				return nil
			}
			// Entering the copy range: produce the prefix first.
			if err := e.emitPrefix(ctx, p); err != nil {
				return err
			}
			e.surgeon.StartSplice(e.spliceDiscontinuity(p))
			e.inCopy = true
		}

		if pkt.DTS > end {
			// Copy range done: suffix, audio, then the next plan takes the
			// packet.
			if err := e.closeCopy(ctx, p); err != nil {
				return err
			}
			continue
		}

		return e.emitCopied(p, pkt)
	}
	return nil
}

// dtsAfterInterval returns the first DTS past the interval's display range.
func dtsAfterInterval(j *Job, p *plan.SplicePlan) int64 {
	if f, ok := j.index.FrameAtOrAfter(p.Interval.EndPTS); ok {
		return f.DTS
	}
	return p.Interval.EndPTS
}

// spliceDiscontinuity reports whether the copied run follows a break in
// decode continuity.
func (e *packetEngine) spliceDiscontinuity(p *plan.SplicePlan) bool {
	if len(p.ReencodePrefix) > 0 {
		return true
	}
	if e.planIdx > 0 {
		return true
	}
	frames := e.job.index.Frames()
	return len(frames) > 0 && p.CopyFromPTS > frames[0].PTS
}

// closeCopy finishes the current plan's copy run.
func (e *packetEngine) closeCopy(ctx context.Context, p *plan.SplicePlan) error {
	e.inCopy = false
	if err := e.emitSuffix(ctx, p); err != nil {
		return err
	}
	e.advancePlan(p)
	return nil
}

// advancePlan flushes the plan's audio and moves the output position.
func (e *packetEngine) advancePlan(p *plan.SplicePlan) {
	e.outputPos += e.planSpan(p)
	e.planIdx++
	e.flushAudioThrough(e.planIdx)
}

// planSpan is the output duration the plan contributes.
func (e *packetEngine) planSpan(p *plan.SplicePlan) int64 {
	if p.KeyframeOnly && p.HasCopy() {
		base := p.CopyFromPTS
		endFrame, ok := e.job.index.FrameAtOrAfter(p.CopyToPTS)
		if ok {
			dur := endFrame.Duration
			if dur <= 0 {
				dur = 1
			}
			return p.CopyToPTS + dur - base
		}
		return p.CopyToPTS - base
	}
	return p.Interval.Duration()
}

// planBase is the input PTS that maps to the plan's first output tick.
func (e *packetEngine) planBase(p *plan.SplicePlan) int64 {
	if p.KeyframeOnly && p.HasCopy() {
		return p.CopyFromPTS
	}
	return p.Interval.StartPTS
}

// rebase maps an input timestamp into the output timeline.
func (e *packetEngine) rebase(p *plan.SplicePlan, ts int64) int64 {
	if ts == media.NoTimestamp {
		return ts
	}
	return ts - e.planBase(p) + e.outputPos
}

// emitCopied pushes one copied packet through the surgeon and scheduler.
func (e *packetEngine) emitCopied(p *plan.SplicePlan, pkt *media.Packet) error {
	out, err := e.surgeon.ProcessCopied(pkt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBitstream, err)
	}
	if out == nil {
		// RASL dropped at the splice.
		return nil
	}

	clone := *out
	clone.PTS = e.rebase(p, out.PTS)
	clone.DTS = e.rebase(p, out.DTS)
	if err := e.sched.Push(&clone); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return nil
}

// emitPrefix re-encodes and pushes the plan's prefix frames.
func (e *packetEngine) emitPrefix(ctx context.Context, p *plan.SplicePlan) error {
	if len(p.ReencodePrefix) == 0 {
		return nil
	}
	return e.emitReencode(ctx, p, p.ReencodePrefix, p.PrefixWindow, p.Interval.StartPTS, p.CopyFromPTS)
}

// emitSuffix re-encodes and pushes the plan's suffix frames.
func (e *packetEngine) emitSuffix(ctx context.Context, p *plan.SplicePlan) error {
	if len(p.ReencodeSuffix) == 0 {
		return nil
	}
	first := p.ReencodeSuffix[0]
	return e.emitReencode(ctx, p, p.ReencodeSuffix, p.SuffixWindow, first, p.Interval.EndPTS)
}

// emitFullReencode handles an interval with no copyable keyframe.
func (e *packetEngine) emitFullReencode(ctx context.Context, p *plan.SplicePlan) error {
	if len(p.ReencodePrefix) == 0 {
		return nil
	}
	return e.emitReencode(ctx, p, p.ReencodePrefix, p.PrefixWindow, p.Interval.StartPTS, p.Interval.EndPTS)
}

// emitReencode runs one boundary re-encode, retrying once with a widened
// decode window on a missing reference.
func (e *packetEngine) emitReencode(ctx context.Context, p *plan.SplicePlan, frames []int64, window plan.DecodeWindow, startPTS, endPTS int64) error {
	j := e.job
	tb := e.intervalTB()

	req := reencode.Request{
		InputPath:      j.opts.InputPath,
		StreamIndex:    j.refVideo.Index,
		Stream:         *j.refVideo,
		SeekSeconds:    media.Seconds(window.StartDTS, tb),
		StartSeconds:   media.Seconds(startPTS, tb),
		EndSeconds:     media.Seconds(endPTS, tb),
		ExpectedFrames: len(frames),
	}
	if req.SeekSeconds < 0 {
		req.SeekSeconds = 0
	}

	seg, err := e.encoder.Encode(ctx, req)
	if errors.Is(err, reencode.ErrDecoderRefMissing) {
		// Widen once to the previous keyframe and retry; a second failure
		// is fatal to avoid pathological re-entry.
		j.logger.Warn("widening re-encode decode window",
			slog.Float64("seek", req.SeekSeconds))
		req.Widened = true
		req.SeekSeconds = e.widenSeek(window.StartDTS)
		seg, err = e.encoder.Encode(ctx, req)
	}
	if err != nil {
		return err
	}

	encTB := container.ESTimeBase
	for i, pkt := range seg.Packets {
		out, err := e.surgeon.ProcessEncoded(pkt, i == 0, seg.ParameterSets)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBitstream, err)
		}
		clone := *out
		clone.PTS = e.rebase(p, media.Rescale(out.PTS, encTB, tb))
		clone.DTS = e.rebase(p, media.Rescale(out.DTS, encTB, tb))
		if err := e.sched.Push(&clone); err != nil {
			return fmt.Errorf("%w: %v", ErrOutputWrite, err)
		}
	}
	return nil
}

// widenSeek moves the decode window back to the keyframe preceding the one
// the first attempt used.
func (e *packetEngine) widenSeek(startDTS int64) float64 {
	tb := e.intervalTB()
	prev := startDTS
	for _, entry := range e.job.index.Entries() {
		if entry.KeyframeDTS >= startDTS {
			break
		}
		prev = entry.KeyframeDTS
	}
	sec := media.Seconds(prev, tb)
	if sec < 0 {
		sec = 0
	}
	return sec
}

// finishVideoPass completes trailing plans once the demux pass ends.
func (e *packetEngine) finishVideoPass(ctx context.Context) error {
	for e.planIdx < len(e.plans) {
		p := e.plans[e.planIdx]
		if e.inCopy {
			if err := e.closeCopy(ctx, p); err != nil {
				return err
			}
			continue
		}
		if !p.HasCopy() {
			if err := e.emitFullReencode(ctx, p); err != nil {
				return err
			}
		}
		e.advancePlan(p)
	}

	// Audio-only job: no plans exist, route every interval directly.
	if e.plans == nil {
		e.flushAudioThrough(len(e.intervals))
	}
	return nil
}

// flushAudioThrough routes buffered audio for plans [audioRouted, n).
func (e *packetEngine) flushAudioThrough(n int) {
	if n > len(e.intervals) {
		n = len(e.intervals)
	}
	for ; e.audioRouted < n; e.audioRouted++ {
		iv := e.intervals[e.audioRouted]
		for _, desc := range e.audioDescs {
			r := e.routers[desc.Index]
			for _, pkt := range r.Segment(iv, e.audioBuf[desc.Index]) {
				if err := e.sched.Push(pkt); err != nil {
					e.job.logger.Warn("dropping audio packet",
						slog.Int("stream", desc.Index),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// finish routes subtitles, closes streams, and finalizes the container.
func (e *packetEngine) finish(ctx context.Context) error {
	j := e.job

	// Any audio for plans the video pass never reached.
	e.flushAudioThrough(len(e.intervals))

	for _, desc := range e.subDescs {
		r := e.routers[desc.Index]
		for _, iv := range e.intervals {
			for _, pkt := range r.Segment(iv, e.subPackets[desc.Index]) {
				if err := e.sched.Push(pkt); err != nil {
					return fmt.Errorf("%w: %v", ErrOutputWrite, err)
				}
			}
		}
	}

	for _, desc := range e.audioDescs {
		_ = e.sched.StreamDone(desc.Index)
	}
	for _, desc := range e.subDescs {
		_ = e.sched.StreamDone(desc.Index)
	}
	if j.refVideo != nil {
		_ = e.sched.StreamDone(j.refVideo.Index)
	}

	chapters := remapChapters(j.source.Chapters, e.intervals, e.intervalTB())
	attachments, err := e.loadAttachments(ctx)
	if err != nil {
		j.logger.Warn("attachments not copied", slog.String("error", err.Error()))
	}

	if err := e.sched.Close(chapters, attachments); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return nil
}
