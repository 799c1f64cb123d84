package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// AskCmd answers a single question from the corpus.
func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := indexedRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			answer, err := rt.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).answer(answer)
			return nil
		},
	}
	addCorpusFlags(cmd)
	addRetrievalFlags(cmd)
	addGenerationFlags(cmd)
	return cmd
}
