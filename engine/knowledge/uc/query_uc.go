package uc

import (
	"context"

	"github.com/compozy/ragchain/engine/knowledge/query"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

// Ask answers question from the current index. The returned Answer is non-nil
// whenever the engine ran, including on failure.
func (r *Runtime) Ask(ctx context.Context, question string) (*query.Answer, error) {
	engine, err := r.queryEngine(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Answer(ctx, question)
}

// Search runs retrieval only. k <= 0 falls back to the configured top_k.
func (r *Runtime) Search(ctx context.Context, text string, k int) ([]vectordb.Result, error) {
	if k <= 0 {
		k = r.cfg.Retrieval.TopK
	}
	return r.retriever.Retrieve(ctx, text, k)
}
