package cut

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/plan"
	"github.com/jmylchreest/framecut/internal/reencode"
	"github.com/jmylchreest/framecut/internal/version"
)

// segmentEngine executes splice plans at the file level for keyframe-flag
// codecs (VP9, AV1, MPEG-2) and the generic fallback: each plan becomes a
// short re-encoded boundary file plus a stream-copied body file, joined
// losslessly with the concat demuxer. The planning semantics are identical
// to the packet engine's; only the splicing mechanism differs, because these
// codecs have no NAL stream to rewrite.
type segmentEngine struct {
	job        *Job
	outputPath string
}

// run builds all segment files and concatenates them.
func (e *segmentEngine) run(ctx context.Context, plans []*plan.SplicePlan) error {
	j := e.job

	dir, err := os.MkdirTemp("", "framecut-seg-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	defer os.RemoveAll(dir)

	ext := filepath.Ext(e.outputPath)
	if codec.ParseContainer(ext) == codec.ContainerMPEGTS {
		// Intermediate cuts in .ts would force Annex B round trips; use MKV
		// as the neutral intermediate and remux at concat time.
		ext = ".mkv"
	}

	var files []string
	n := 0
	next := func() string {
		n++
		return filepath.Join(dir, fmt.Sprintf("seg%03d%s", n, ext))
	}

	for _, p := range plans {
		if j.isCancelled() {
			return ErrCancelled
		}

		if !p.HasCopy() {
			path := next()
			if err := e.encodeRange(ctx, p.Interval.StartPTS, p.Interval.EndPTS, path); err != nil {
				return err
			}
			files = append(files, path)
			continue
		}

		if len(p.ReencodePrefix) > 0 {
			path := next()
			if err := e.encodeRange(ctx, p.Interval.StartPTS, p.CopyFromPTS, path); err != nil {
				return err
			}
			files = append(files, path)
		}

		copyEnd := p.Interval.EndPTS
		if len(p.ReencodeSuffix) > 0 {
			copyEnd = p.ReencodeSuffix[0]
		}
		path := next()
		if err := e.copyRange(ctx, p.CopyFromPTS, copyEnd, path); err != nil {
			return err
		}
		files = append(files, path)

		if len(p.ReencodeSuffix) > 0 {
			path := next()
			if err := e.encodeRange(ctx, p.ReencodeSuffix[0], p.Interval.EndPTS, path); err != nil {
				return err
			}
			files = append(files, path)
		}
	}

	if j.isCancelled() {
		return ErrCancelled
	}
	return e.concat(ctx, dir, files)
}

// seconds converts index ticks to seconds.
func (e *segmentEngine) seconds(ticks int64) float64 {
	return media.Seconds(ticks, e.job.indexTB)
}

// copyRange stream-copies [fromPTS, toPTS) into path. fromPTS sits on a
// keyframe by plan construction, so input-side seeking is exact.
func (e *segmentEngine) copyRange(ctx context.Context, fromPTS, toPTS int64, path string) error {
	j := e.job

	b := ffmpeg.NewCommandBuilder(j.ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-ss", fmt.Sprintf("%.6f", e.seconds(fromPTS))).
		Input(j.opts.InputPath).
		OutputArgs(
			"-t", fmt.Sprintf("%.6f", e.seconds(toPTS-fromPTS)),
			"-map", "0:v:0", "-map", "0:a?", "-map", "0:s?",
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
		).
		Output(path)

	if err := b.Run(ctx, j.logger); err != nil {
		return fmt.Errorf("%w: copying segment: %v", ErrOutputWrite, err)
	}
	return nil
}

// encodeRange re-encodes [fromPTS, toPTS) into path with the stream's codec
// parameters replicated, audio stream-copied alongside.
func (e *segmentEngine) encodeRange(ctx context.Context, fromPTS, toPTS int64, path string) error {
	j := e.job
	v, _ := codec.ParseVideo(j.refVideo.CodecID)
	if v.Encoder() == "" {
		return fmt.Errorf("%w: codec %q cannot be re-encoded", ErrEncoder, j.refVideo.CodecID)
	}

	// Seek to the previous keyframe so references resolve, then trim
	// output-side to the exact frame range.
	seek := e.seconds(fromPTS)
	if entry, _, ok := j.index.EntryContaining(fromPTS); ok {
		seek = e.seconds(entry.KeyframePTS)
	}

	b := ffmpeg.NewCommandBuilder(j.ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-ss", fmt.Sprintf("%.6f", seek)).
		Input(j.opts.InputPath)

	start := e.seconds(fromPTS) - seek
	dur := e.seconds(toPTS - fromPTS)
	b.OutputArgs(
		"-ss", fmt.Sprintf("%.6f", start),
		"-t", fmt.Sprintf("%.6f", dur),
		"-map", "0:v:0", "-map", "0:a?", "-map", "0:s?",
		"-c:a", "copy", "-c:s", "copy",
		"-c:v", v.Encoder(),
	)

	crf := reencode.CRFForQuality(j.opts.Quality, v)
	switch v {
	case codec.VideoVP9:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf), "-b:v", "0")
		if j.opts.Quality == "lossless" {
			b.OutputArgs("-lossless", "1")
		}
	case codec.VideoAV1:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf))
	case codec.VideoMPEG2:
		if j.refVideo.BitRate > 0 {
			b.OutputArgs("-b:v", fmt.Sprintf("%d", j.refVideo.BitRate))
		} else {
			b.OutputArgs("-qscale:v", "2")
		}
	default:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf))
	}

	if j.refVideo.PixFmt != "" {
		b.OutputArgs("-pix_fmt", j.refVideo.PixFmt)
	}
	b.OutputArgs("-force_key_frames", "expr:eq(n,0)")
	b.Output(path)

	if err := b.Run(ctx, j.logger); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoder, err)
	}
	return nil
}

// concat joins the segment files into the final output with the concat
// demuxer, packet copy only.
func (e *segmentEngine) concat(ctx context.Context, dir string, files []string) error {
	j := e.job
	if len(files) == 0 {
		return fmt.Errorf("%w: no segments produced", ErrArgs)
	}

	var list strings.Builder
	for _, f := range files {
		fmt.Fprintf(&list, "file '%s'\n", f)
	}
	listPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	b := ffmpeg.NewCommandBuilder(j.ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-f", "concat", "-safe", "0").
		Input(listPath).
		OutputArgs(
			"-map", "0",
			"-c", "copy",
			"-metadata", "encoded_by="+version.EncoderTag(),
		).
		Output(e.outputPath)

	if err := b.Run(ctx, j.logger); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	return nil
}
