package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/framecut/internal/cut"
	"github.com/jmylchreest/framecut/internal/timespec"
)

var planCmd = &cobra.Command{
	Use:   "plan <input>",
	Short: "Show the splice plan for a cut without producing output",
	Long: `plan resolves the given intervals against the input's GOP structure and
prints which ranges would be copied and which frames would be re-encoded.`,
	Example: `  framecut plan in.mp4 -k 10,20,40,50`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cut.OptionsFromConfig(cfg)
		opts.InputPath = args[0]

		keep, _ := cmd.Flags().GetString("keep")
		cutList, _ := cmd.Flags().GetString("cut")
		opts.KeepTokens = timespec.SplitTokens(keep)
		opts.CutTokens = timespec.SplitTokens(cutList)
		opts.KeyframeMode, _ = cmd.Flags().GetBool("keyframe-mode")

		job := cut.NewJob(opts, nil)
		report, err := job.DryRun(cmd.Context())
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	},
}

func init() {
	planCmd.Flags().StringP("keep", "k", "", "comma-separated time token pairs to keep")
	planCmd.Flags().StringP("cut", "c", "", "comma-separated time token pairs to remove")
	planCmd.Flags().Bool("keyframe-mode", false, "plan keyframe-only cutting")
}
