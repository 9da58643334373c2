package cut

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/container"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/gop"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
	"github.com/jmylchreest/framecut/internal/observability"
	"github.com/jmylchreest/framecut/internal/plan"
	"github.com/jmylchreest/framecut/internal/timespec"
)

// Job runs one cut from input to output. No shared mutable state outlives it.
type Job struct {
	ID     string
	opts   Options
	logger *slog.Logger

	cancelled atomic.Bool

	ffmpegPath  string
	ffprobePath string

	source   *container.Source
	refVideo *media.StreamDescriptor
	index    *gop.Index
	handler  nal.Handler
	// indexTB is the time base the GOP index (and therefore every interval
	// and splice plan) is expressed in.
	indexTB media.Rational

	gopCache *gop.Cache
}

// NewJob creates a job. The logger gains job-scoped fields.
func NewJob(opts Options, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	id := ulid.Make().String()
	return &Job{
		ID:       id,
		opts:     opts,
		logger:   observability.WithJobID(observability.WithComponent(logger, "job"), id),
		gopCache: gop.NewCache(),
	}
}

// Cancel requests cooperative cancellation; the job notices at the next
// packet boundary and finalizes the output before returning ErrCancelled.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// isCancelled is checked at every packet boundary.
func (j *Job) isCancelled() bool {
	return j.cancelled.Load()
}

// Run executes the job.
func (j *Job) Run(ctx context.Context) error {
	if err := j.opts.Validate(); err != nil {
		return err
	}

	info, err := ffmpeg.NewBinaryDetector(j.opts.FFmpegPath, j.opts.FFprobePath).Detect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	j.ffmpegPath = info.FFmpegPath
	j.ffprobePath = info.FFprobePath

	if err := j.probe(ctx); err != nil {
		return err
	}

	intervals, err := j.resolveIntervals(ctx)
	if err != nil {
		return err
	}

	j.logger.Info("job starting",
		slog.String("input", j.opts.InputPath),
		slog.String("output", j.opts.OutputPath),
		slog.Int("intervals", len(intervals)),
	)

	if j.opts.SegmentMode {
		return j.runSegmentMode(ctx, intervals)
	}
	return j.runOne(ctx, intervals, j.opts.OutputPath)
}

// runSegmentMode writes one output file per interval, numbering them the way
// the interval list orders them.
func (j *Job) runSegmentMode(ctx context.Context, intervals []media.TimeInterval) error {
	width := len(fmt.Sprintf("%d", len(intervals)))
	for i, iv := range intervals {
		if j.isCancelled() {
			return ErrCancelled
		}
		path := segmentOutputPath(j.opts.OutputPath, i+1, width)
		if err := j.runOne(ctx, []media.TimeInterval{iv}, path); err != nil {
			return err
		}
	}
	return nil
}

// segmentOutputPath inserts a zero-padded index at '#', or before the
// extension when no placeholder is present.
func segmentOutputPath(outPath string, n, width int) string {
	idx := fmt.Sprintf("%0*d", width, n)
	if pound := strings.LastIndexByte(outPath, '#'); pound >= 0 {
		return outPath[:pound] + idx + outPath[pound+1:]
	}
	ext := filepath.Ext(outPath)
	return strings.TrimSuffix(outPath, ext) + idx + ext
}

// runOne cuts the given intervals into one output file.
func (j *Job) runOne(ctx context.Context, intervals []media.TimeInterval, outputPath string) error {
	if j.refVideo == nil {
		eng := &packetEngine{job: j, outputPath: outputPath}
		return eng.run(ctx, nil, intervals)
	}

	planner := plan.NewPlanner(j.index, j.handler, j.opts.MaxGOPFrames)
	if j.opts.KeyframeMode {
		planner.KeyframeOnly = true
	}
	if planner.KeyframeOnly && !j.opts.KeyframeMode {
		j.logger.Warn("codec has no smart-cut path, cutting on keyframes only",
			slog.String("codec", j.refVideo.CodecID))
	}

	plans := make([]*plan.SplicePlan, 0, len(intervals))
	for _, iv := range intervals {
		sp, err := planner.Plan(iv)
		if err != nil {
			return err
		}
		plans = append(plans, sp)
	}

	if j.handler.Splice() == codec.SpliceNALAware {
		eng := &packetEngine{job: j, outputPath: outputPath}
		return eng.run(ctx, plans, intervals)
	}

	eng := &segmentEngine{job: j, outputPath: outputPath}
	return eng.run(ctx, plans)
}

// probe loads stream metadata and builds the GOP index.
func (j *Job) probe(ctx context.Context) error {
	prober := container.NewProber(j.ffprobePath)
	result, err := prober.Probe(ctx, j.opts.InputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	src, err := prober.Resolve(result, j.opts.InputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	j.source = src
	j.refVideo = src.ReferenceVideo()

	if j.refVideo == nil {
		if len(src.StreamsOfKind(media.StreamAudio)) == 0 {
			return fmt.Errorf("%w: no video or audio streams", ErrInputUnreadable)
		}
		// Audio-only input: intervals resolve against the first audio track,
		// which must be able to ride the elementary-stream pipe.
		a := src.StreamsOfKind(media.StreamAudio)[0]
		if ac, ok := codec.ParseAudio(a.CodecID); !ok || !ac.IsTSDemuxable() {
			return fmt.Errorf("%w: audio codec %q has no passthrough path", ErrInputUnreadable, a.CodecID)
		}
		j.indexTB = a.TimeBase
		return nil
	}

	v, _ := codec.ParseVideo(j.refVideo.CodecID)
	target := codec.ParseContainer(filepath.Ext(j.opts.OutputPath))
	if v != "" && target.Writable() && !target.SupportsVideo(v) {
		return fmt.Errorf("%w: codec %s is not supported in %s output",
			ErrArgs, j.refVideo.CodecID, target)
	}

	handler, err := nal.HandlerForCodecID(j.refVideo.CodecID, j.refVideo.Extradata)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBitstream, err)
	}
	j.handler = handler

	return j.buildIndex(ctx)
}

// buildIndex performs the cold GOP scan, picking the cheapest source the
// input allows.
func (j *Job) buildIndex(ctx context.Context) error {
	done := observability.TimedOperation(ctx, j.logger, "build_gop_index")
	defer done()

	idx, err := j.gopCache.GetOrBuild(j.opts.InputPath, j.refVideo.Index, func() (*gop.Index, error) {
		switch {
		case j.handler.Splice() == codec.SpliceNALAware:
			return j.scanElementary(ctx)
		case isISOBMFF(j.source.Format):
			if idx, err := j.scanMP4(); err == nil {
				return idx, nil
			}
			return j.scanPacketIndex(ctx)
		default:
			return j.scanPacketIndex(ctx)
		}
	})
	if err != nil {
		return err
	}
	j.index = idx
	j.indexTB = idx.TimeBase
	return nil
}

// isISOBMFF reports whether the probed format is MP4/MOV-family.
func isISOBMFF(format string) bool {
	return strings.Contains(format, "mp4") || strings.Contains(format, "mov")
}

// scanElementary builds the index from a full NAL-accurate pass over the
// elementary-stream pipe.
func (j *Job) scanElementary(ctx context.Context) (*gop.Index, error) {
	builder, err := gop.NewBuilder(j.handler, container.ESTimeBase, j.refVideo.Extradata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstream, err)
	}

	demux, err := container.NewESDemuxer(j.ffmpegPath, j.source,
		[]media.StreamDescriptor{*j.refVideo}, j.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	demux.OnPacket = func(pkt *media.Packet) error {
		if j.isCancelled() {
			return ErrCancelled
		}
		if pkt.Flags.Has(media.FlagCorrupt) {
			j.logger.Warn("skipping corrupt packet during scan", slog.Int64("pts", pkt.PTS))
			return nil
		}
		return builder.Add(pkt)
	}
	if err := demux.Run(ctx); err != nil {
		if j.isCancelled() {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%w: scanning video stream: %v", ErrInputUnreadable, err)
	}

	return builder.Finish(), nil
}

// scanMP4 builds the index from ISO-BMFF sample tables; no payloads needed
// for keyframe-flag codecs.
func (j *Job) scanMP4() (*gop.Index, error) {
	tracks, err := container.IndexMP4(j.opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	track := container.VideoTrack(tracks)
	if track == nil || track.Timescale == 0 {
		return nil, fmt.Errorf("%w: no video sample table", ErrInputUnreadable)
	}

	builder, err := gop.NewBuilder(j.handler, track.TimeBase(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstream, err)
	}
	for _, pkt := range track.Packets(j.refVideo.Index) {
		if err := builder.Add(pkt); err != nil {
			return nil, err
		}
	}
	return builder.Finish(), nil
}

// scanPacketIndex builds the index from ffprobe's packet listing.
func (j *Job) scanPacketIndex(ctx context.Context) (*gop.Index, error) {
	indexer := container.NewPacketIndexer(j.ffprobePath)
	packets, err := indexer.Index(ctx, j.opts.InputPath, j.refVideo.Index, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}

	builder, err := gop.NewBuilder(j.handler, j.refVideo.TimeBase, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstream, err)
	}
	for _, pkt := range packets {
		if pkt.Flags.Has(media.FlagCorrupt) {
			j.logger.Warn("skipping corrupt packet during scan", slog.Int64("pts", pkt.PTS))
			continue
		}
		if err := builder.Add(pkt); err != nil {
			return nil, err
		}
	}
	return builder.Finish(), nil
}

// resolveIntervals turns the raw tokens into sorted keep intervals in the
// index time base.
func (j *Job) resolveIntervals(_ context.Context) ([]media.TimeInterval, error) {
	duration := media.RescaleSeconds(j.source.Duration, j.indexTB)
	if j.index != nil {
		if d := j.index.Duration(); d > 0 {
			duration = d
		}
	}

	var frameRate media.Rational
	if j.refVideo != nil {
		frameRate = j.refVideo.FrameRate
	}

	resolver := &timespec.Resolver{
		TimeBase:  j.indexTB,
		Duration:  duration,
		FrameRate: frameRate,
	}

	if len(j.opts.CutTokens) > 0 {
		return resolver.ResolveCut(j.opts.CutTokens)
	}
	return resolver.ResolveKeep(j.opts.KeepTokens)
}
