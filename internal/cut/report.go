package cut

import (
	"context"
	"fmt"

	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/plan"
)

// PlanReport is the dry-run view of a job: what would be copied and what
// would be re-encoded, without touching the output path.
type PlanReport struct {
	Input     string           `yaml:"input"`
	Codec     string           `yaml:"codec"`
	TimeBase  string           `yaml:"time_base"`
	Intervals []intervalReport `yaml:"intervals"`
}

type intervalReport struct {
	Start          float64 `yaml:"start_seconds"`
	End            float64 `yaml:"end_seconds"`
	CopyFrom       float64 `yaml:"copy_from_seconds"`
	CopyTo         float64 `yaml:"copy_to_seconds"`
	PrefixFrames   int     `yaml:"prefix_frames"`
	SuffixFrames   int     `yaml:"suffix_frames"`
	SpliceRewrite  bool    `yaml:"splice_rewrite"`
	KeyframeOnly   bool    `yaml:"keyframe_only"`
	BoundaryEpoch  int     `yaml:"boundary_epoch"`
	FullyReencoded bool    `yaml:"fully_reencoded"`
}

// DryRun resolves intervals and computes splice plans without producing
// output.
func (j *Job) DryRun(ctx context.Context) (*PlanReport, error) {
	if j.opts.InputPath == "" {
		return nil, fmt.Errorf("%w: input path is required", ErrArgs)
	}
	if len(j.opts.KeepTokens) == 0 && len(j.opts.CutTokens) == 0 {
		return nil, fmt.Errorf("%w: one of --keep or --cut is required", ErrArgs)
	}

	info, err := ffmpeg.NewBinaryDetector(j.opts.FFmpegPath, j.opts.FFprobePath).Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	j.ffmpegPath = info.FFmpegPath
	j.ffprobePath = info.FFprobePath

	if err := j.probe(ctx); err != nil {
		return nil, err
	}
	if j.refVideo == nil {
		return nil, fmt.Errorf("%w: dry run needs a video stream", ErrArgs)
	}

	intervals, err := j.resolveIntervals(ctx)
	if err != nil {
		return nil, err
	}

	planner := plan.NewPlanner(j.index, j.handler, j.opts.MaxGOPFrames)
	if j.opts.KeyframeMode {
		planner.KeyframeOnly = true
	}

	report := &PlanReport{
		Input:    j.opts.InputPath,
		Codec:    j.refVideo.CodecID,
		TimeBase: j.indexTB.String(),
	}

	sec := func(ticks int64) float64 {
		if ticks == media.NoTimestamp {
			return -1
		}
		return media.Seconds(ticks, j.indexTB)
	}

	for _, iv := range intervals {
		sp, err := planner.Plan(iv)
		if err != nil {
			return nil, err
		}
		report.Intervals = append(report.Intervals, intervalReport{
			Start:          sec(sp.Interval.StartPTS),
			End:            sec(sp.Interval.EndPTS),
			CopyFrom:       sec(sp.CopyFromPTS),
			CopyTo:         sec(sp.CopyToPTS),
			PrefixFrames:   len(sp.ReencodePrefix),
			SuffixFrames:   len(sp.ReencodeSuffix),
			SpliceRewrite:  sp.SpliceRewrite,
			KeyframeOnly:   sp.KeyframeOnly,
			BoundaryEpoch:  sp.BoundaryEpoch,
			FullyReencoded: !sp.HasCopy(),
		})
	}

	return report, nil
}
