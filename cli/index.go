package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/ragchain/engine/knowledge/uc"
	"github.com/compozy/ragchain/pkg/config"
	"github.com/compozy/ragchain/pkg/logger"
)

// IndexCmd builds the index over the corpus and prints its statistics.
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector index from the corpus folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.Build(cmd.Context())
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).buildResult(res, rt.Index().Stats())
			return nil
		},
	}
	addCorpusFlags(cmd)
	return cmd
}

func newRuntime(ctx context.Context) (*uc.Runtime, error) {
	rt, err := uc.NewRuntime(ctx, config.FromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	return rt, nil
}

// indexedRuntime creates the runtime and indexes the corpus once.
func indexedRuntime(ctx context.Context) (*uc.Runtime, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	res, err := rt.Build(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	logger.FromContext(ctx).Debug("Corpus indexed", "documents", res.Documents, "chunks", res.Indexed)
	return rt, nil
}
