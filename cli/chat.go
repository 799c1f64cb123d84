package cli

import (
	"bufio"
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/ragchain/engine/knowledge/uc"
	"github.com/compozy/ragchain/pkg/config"
	"github.com/compozy/ragchain/pkg/logger"
)

// ChatCmd answers questions read line by line from stdin.
func ChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Long: `Reads one question per line and answers each from the corpus.
Type "exit" or send EOF to stop. With --watch the index follows corpus changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := indexedRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			if config.FromContext(ctx).Corpus.Watch {
				g.Go(func() error { return rt.Watch(gctx) })
			}
			g.Go(func() error {
				defer cancel()
				return chatLoop(gctx, cmd, rt)
			})
			return g.Wait()
		},
	}
	addCorpusFlags(cmd)
	addRetrievalFlags(cmd)
	addGenerationFlags(cmd)
	cmd.Flags().Bool("watch", false, "Re-index when corpus files change")
	return cmd
}

func chatLoop(ctx context.Context, cmd *cobra.Command, rt *uc.Runtime) error {
	log := logger.FromContext(ctx)
	out := newPrinter(cmd.OutOrStdout())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		out.printf("%s ", out.label.Render(">"))
		if !scanner.Scan() {
			out.printf("\n")
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		answer, err := rt.Ask(ctx, question)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Question failed", "error", err)
			continue
		}
		out.answer(answer)
		out.printf("\n")
	}
}
