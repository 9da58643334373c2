package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/framecut/internal/container"
	"github.com/jmylchreest/framecut/internal/cut"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
)

var probeCmd = &cobra.Command{
	Use:   "probe <input>",
	Short: "Inspect an input file's streams and chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", cut.ErrInputUnreadable, err)
		}

		prober := container.NewProber(info.FFprobePath)
		result, err := prober.Probe(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", cut.ErrInputUnreadable, err)
		}
		src, err := prober.Resolve(result, args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", cut.ErrInputUnreadable, err)
		}

		type streamView struct {
			Index    int    `yaml:"index"`
			Kind     string `yaml:"kind"`
			Codec    string `yaml:"codec"`
			TimeBase string `yaml:"time_base"`
			Detail   string `yaml:"detail,omitempty"`
			Language string `yaml:"language,omitempty"`
			Forced   bool   `yaml:"forced,omitempty"`
			Default  bool   `yaml:"default,omitempty"`
		}
		view := struct {
			Path     string          `yaml:"path"`
			Format   string          `yaml:"format"`
			Duration float64         `yaml:"duration_seconds"`
			Streams  []streamView    `yaml:"streams"`
			Chapters []media.Chapter `yaml:"chapters,omitempty"`
		}{
			Path:     src.Path,
			Format:   src.Format,
			Duration: src.Duration,
		}

		for _, s := range src.Streams {
			sv := streamView{
				Index:    s.Index,
				Kind:     string(s.Kind),
				Codec:    s.CodecID,
				TimeBase: s.TimeBase.String(),
				Language: s.Language,
				Forced:   s.Disposition.Forced,
				Default:  s.Disposition.Default,
			}
			switch s.Kind {
			case media.StreamVideo:
				sv.Detail = fmt.Sprintf("%dx%d %s %.3f fps", s.Width, s.Height, s.PixFmt, s.FrameRate.Float())
			case media.StreamAudio:
				sv.Detail = fmt.Sprintf("%d Hz, %d ch", s.SampleRate, s.Channels)
			}
			view.Streams = append(view.Streams, sv)
		}
		view.Chapters = src.Chapters

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(view)
	},
}
