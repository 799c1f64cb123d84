package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

const searchDefaultK = 2

// SearchCmd runs retrieval only and prints the ranked chunks.
func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the corpus chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := cmd.Flags().GetInt("k")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := indexedRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			text := strings.Join(args, " ")
			results, err := rt.Search(ctx, text, k)
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).results("Results for "+quote(text), results)
			return nil
		},
	}
	addCorpusFlags(cmd)
	cmd.Flags().Int("k", searchDefaultK, "Number of chunks to return")
	cmd.Flags().Float64("min-score", 0, "Drop chunks scoring below this similarity")
	return cmd
}

func quote(s string) string {
	return "\"" + s + "\""
}
