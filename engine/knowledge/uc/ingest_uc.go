package uc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/corpus"
	"github.com/compozy/ragchain/engine/knowledge/ingest"
	"github.com/compozy/ragchain/pkg/logger"
)

// Build replaces the index contents with the current corpus.
func (r *Runtime) Build(ctx context.Context) (*ingest.Result, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	return r.pipeline.Run(ctx)
}

// Reindex re-embeds the documents behind paths and drops the ones that no
// longer exist. Paths outside the corpus patterns are ignored.
func (r *Runtime) Reindex(ctx context.Context, paths []string) (*ingest.Result, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	start := time.Now()
	log := logger.FromContext(ctx)
	present := make([]string, 0, len(paths))
	removed := 0
	for _, path := range paths {
		if !r.corpus.Matches(path) {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			n, rerr := r.index.RemoveDocument(ctx, chunk.DocumentID(path))
			if rerr != nil {
				return nil, rerr
			}
			removed += n
			log.Debug("Dropped deleted document", "path", path, "chunks", n)
			continue
		}
		present = append(present, path)
	}
	docs, err := r.corpus.ReadDocuments(ctx, present)
	if err != nil {
		return nil, err
	}
	res, err := r.pipeline.IndexDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}
	res.Removed += removed
	res.Duration = time.Since(start)
	log.Info(
		"Corpus reindexed",
		"documents", res.Documents,
		"chunks", res.Indexed,
		"removed", res.Removed,
		"entries", r.index.Len(),
	)
	return res, nil
}

// Watch reindexes changed files until ctx is done. Reindex failures are logged
// and the previous index contents stay searchable.
func (r *Runtime) Watch(ctx context.Context) error {
	w, err := corpus.NewWatcher(r.corpus, r.cfg.Corpus.Debounce)
	if err != nil {
		return err
	}
	return w.Watch(ctx, func(ctx context.Context, paths []string) {
		if _, err := r.Reindex(ctx, paths); err != nil {
			logger.FromContext(ctx).Error("Reindex failed", "files", len(paths), "error", err)
		}
	})
}
