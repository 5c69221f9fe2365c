package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/script"
)

func newScriptCmd() *cobra.Command {
	var (
		prompt    string
		situation string
		search    bool
		refs      []string
	)

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Generate a script once and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			svcs, err := buildServices(cmd.Context(), cfg, logger, podflow.SlogEventHandler(logger))
			if err != nil {
				return err
			}

			references := make([]script.Reference, 0, len(refs))
			for _, u := range refs {
				references = append(references, script.Reference{URL: u})
			}

			out, err := svcs.script.Create(cmd.Context(), script.CreateInput{
				Prompt:    prompt,
				Situation: situation,
				IsSearch:  search,
				Reference: references,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "topic or instruction for the script")
	cmd.Flags().StringVar(&situation, "situation", "school", "conversation style")
	cmd.Flags().BoolVar(&search, "search", false, "ground the script in fetched sources")
	cmd.Flags().StringSliceVar(&refs, "reference", nil, "URLs to extract and cite")
	cobra.CheckErr(cmd.MarkFlagRequired("prompt"))
	return cmd
}
