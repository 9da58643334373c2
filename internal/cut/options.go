package cut

import (
	"fmt"
	"path/filepath"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/config"
)

// Options fully describes one job. The CLI builds it from flags and config;
// the core reads nothing else from the environment.
type Options struct {
	InputPath  string
	OutputPath string

	// KeepTokens / CutTokens are the raw time tokens; exactly one list is
	// non-empty.
	KeepTokens []string
	CutTokens  []string

	// KeyframeMode cuts on GOP boundaries only, with no re-encoding.
	KeyframeMode bool
	// SegmentMode writes one output file per kept interval.
	SegmentMode bool

	// Quality is the CRF preset for boundary re-encodes.
	Quality string
	// MaxGOPFrames caps the re-encode decode window.
	MaxGOPFrames int
	// PreserveTimestamps keeps the input timestamp epoch.
	PreserveTimestamps bool
	// QueueDepth bounds the per-stream pending packet queue.
	QueueDepth int
	// AudioPreRollMS widens the audio window ahead of each interval.
	AudioPreRollMS int

	// FFmpegPath / FFprobePath override binary discovery.
	FFmpegPath  string
	FFprobePath string
}

// OptionsFromConfig seeds options with configuration defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Quality:            cfg.Cut.Quality,
		MaxGOPFrames:       cfg.Cut.MaxGOPFrames,
		PreserveTimestamps: cfg.Cut.PreserveTimestamps,
		QueueDepth:         cfg.Cut.QueueDepth,
		AudioPreRollMS:     cfg.Cut.AudioPreRollMS,
		FFmpegPath:         cfg.FFmpeg.BinaryPath,
		FFprobePath:        cfg.FFmpeg.ProbePath,
	}
}

// Validate checks the option set before a job starts.
func (o *Options) Validate() error {
	if o.InputPath == "" || o.OutputPath == "" {
		return fmt.Errorf("%w: input and output paths are required", ErrArgs)
	}
	if len(o.KeepTokens) == 0 && len(o.CutTokens) == 0 {
		return fmt.Errorf("%w: one of --keep or --cut is required", ErrArgs)
	}
	if len(o.KeepTokens) > 0 && len(o.CutTokens) > 0 {
		return fmt.Errorf("%w: --keep and --cut are mutually exclusive", ErrArgs)
	}

	target := codec.ParseContainer(filepath.Ext(o.OutputPath))
	if target == codec.ContainerUnknown {
		return fmt.Errorf("%w: unrecognized output container %q", ErrArgs, filepath.Ext(o.OutputPath))
	}
	if !target.Writable() {
		return fmt.Errorf("%w: container %q is read-only", ErrArgs, filepath.Ext(o.OutputPath))
	}

	return nil
}
