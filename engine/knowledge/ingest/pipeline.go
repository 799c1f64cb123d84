package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/embedder"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
	"github.com/compozy/ragchain/pkg/logger"
)

const stage = "ingest"

// DocumentSource supplies the documents of one build.
type DocumentSource interface {
	LoadDocuments(ctx context.Context) ([]chunk.Document, error)
}

type Pipeline struct {
	source   DocumentSource
	chunker  *chunk.Processor
	embedder embedder.Embedder
	index    *vectordb.Index
	options  Options
}

type Result struct {
	Documents int
	Chunks    int
	Indexed   int
	Removed   int
	Dimension int
	Duration  time.Duration
}

func NewPipeline(
	source DocumentSource,
	chunker *chunk.Processor,
	emb embedder.Embedder,
	index *vectordb.Index,
	opts Options,
) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("ingest: document source is required")
	}
	if chunker == nil {
		return nil, errors.New("ingest: chunk processor is required")
	}
	if emb == nil {
		return nil, errors.New("ingest: embedder implementation is required")
	}
	if index == nil {
		return nil, errors.New("ingest: vector index is required")
	}
	switch opts.normalizedStrategy() {
	case StrategyUpsert, StrategyReplace:
	default:
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, stage, "ingestion strategy %q not supported", opts.Strategy)
	}
	return &Pipeline{source: source, chunker: chunker, embedder: emb, index: index, options: opts}, nil
}

// Run loads every document from the source and indexes it.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	docs, err := p.source.LoadDocuments(ctx)
	if err != nil {
		recordError(ctx, p.options.name(), err)
		return nil, err
	}
	res, err := p.ingest(ctx, docs, p.options.normalizedStrategy())
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	knowledge.RecordBuildDuration(ctx, p.options.name(), res.Duration)
	logger.FromContext(ctx).Info(
		"Index build completed",
		"corpus", p.options.name(),
		"documents", res.Documents,
		"chunks", res.Chunks,
		"indexed", res.Indexed,
		"dimension", res.Dimension,
		"duration", res.Duration,
	)
	return res, nil
}

// IndexDocuments upserts docs without consulting the source. Chunks previously
// indexed for these documents are replaced.
func (p *Pipeline) IndexDocuments(ctx context.Context, docs []chunk.Document) (*Result, error) {
	start := time.Now()
	res, err := p.ingest(ctx, docs, StrategyUpsert)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, docs []chunk.Document, strategy Strategy) (*Result, error) {
	log := logger.FromContext(ctx).With("corpus", p.options.name())
	res := &Result{Documents: len(docs)}
	chunks, err := p.chunker.Process(docs)
	if err != nil {
		err = knowledge.Classify(stage, knowledge.KindInvalidConfig, err)
		recordError(ctx, p.options.name(), err)
		return nil, err
	}
	res.Chunks = len(chunks)
	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		recordError(ctx, p.options.name(), err)
		return nil, err
	}
	entries := make([]vectordb.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vectordb.Entry{
			Chunk:     chunks[i],
			Embedding: vectordb.Embedding{ChunkID: chunks[i].ID, Vector: vectors[i]},
		}
	}
	removed, err := p.store(ctx, docs, entries, strategy)
	if err != nil {
		recordError(ctx, p.options.name(), err)
		return nil, err
	}
	res.Removed = removed
	res.Indexed = len(entries)
	res.Dimension = p.index.Dimension()
	recordDocuments(ctx, p.options.name(), res.Documents)
	knowledge.RecordChunks(ctx, p.options.name(), res.Indexed)
	log.Debug("Indexed documents", "documents", res.Documents, "chunks", res.Chunks, "removed", removed)
	return res, nil
}

// store swaps the previous chunks for entries in one index operation, so a
// rejected batch leaves the index as it was.
func (p *Pipeline) store(ctx context.Context, docs []chunk.Document, entries []vectordb.Entry, strategy Strategy) (int, error) {
	if strategy == StrategyReplace {
		return p.index.ReplaceAll(ctx, entries)
	}
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	return p.index.ReplaceDocuments(ctx, ids, entries)
}

// embedAll embeds chunk texts in batches on a bounded worker pool. The result
// is aligned with chunks regardless of completion order.
func (p *Pipeline) embedAll(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	size := p.options.batchSize()
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.workers())
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		g.Go(func() error {
			return p.embedBatch(gctx, chunks[start:end], vectors[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []chunk.Chunk, out [][]float32) error {
	if err := ctx.Err(); err != nil {
		return knowledge.Classify(stage, knowledge.KindEmbeddingFailure, err)
	}
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	recordBatch(ctx, len(batch))
	got, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return knowledge.Classify(stage, knowledge.KindEmbeddingFailure, fmt.Errorf("embed documents: %w", err))
	}
	if len(got) != len(batch) {
		return knowledge.Errorf(
			knowledge.KindEmbeddingFailure,
			stage,
			"embedder returned %d vectors for %d chunks",
			len(got),
			len(batch),
		)
	}
	copy(out, got)
	return nil
}
