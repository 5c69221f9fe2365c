package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/audio"
)

func newAudioCmd() *cobra.Command {
	var (
		inputPath string
		bgmID     string
		padding   int
	)

	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Render a script file into streamable audio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			raw, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("reading script: %w", err)
			}
			var in audio.PreviewInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("parsing script: %w", err)
			}
			if bgmID != "" {
				in.BGMID = bgmID
			}
			if padding > 0 {
				in.PaddingMs = padding
			}

			svcs, err := buildServices(cmd.Context(), cfg, logger, podflow.SlogEventHandler(logger))
			if err != nil {
				return err
			}

			out, err := svcs.audio.Preview(cmd.Context(), in)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to a script JSON file")
	cmd.Flags().StringVar(&bgmID, "bgm", "", "background music id")
	cmd.Flags().IntVar(&padding, "padding", 0, "music lead-in/out in milliseconds")
	cobra.CheckErr(cmd.MarkFlagRequired("input"))
	return cmd
}
