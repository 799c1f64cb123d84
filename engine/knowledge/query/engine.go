package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/prompt"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
	llmadapter "github.com/compozy/ragchain/engine/llm/adapter"
	"github.com/compozy/ragchain/pkg/logger"
)

const (
	stageRetrieve = "retrieve"
	stageAssemble = "assemble"
	stageGenerate = "generate"
)

// Retriever returns ranked chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]vectordb.Result, error)
}

// Config tunes one engine. A zero QueryTimeout leaves the caller's deadline in charge.
type Config struct {
	TopK         int
	QueryTimeout time.Duration
	Generation   llmadapter.Options
}

// Answer is the outcome of one query. It is returned on failure too so callers can
// inspect the final state and the stage that failed.
type Answer struct {
	QueryID       core.ID
	Question      string
	Text          string
	Sources       []vectordb.Result
	Prompt        string
	State         State
	FailureReason string
	Transitions   []Transition
	Duration      time.Duration
}

// Engine runs retrieve, assemble and generate for each question. It holds no
// per-query state, so one Engine serves concurrent callers.
type Engine struct {
	retriever Retriever
	assembler *prompt.Assembler
	generator llmadapter.Generator
	cfg       Config
	tracer    trace.Tracer
}

func NewEngine(r Retriever, a *prompt.Assembler, g llmadapter.Generator, cfg Config) (*Engine, error) {
	if r == nil || a == nil || g == nil {
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, "query",
			errors.New("retriever, assembler and generator are required"))
	}
	if cfg.QueryTimeout < 0 {
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, "query", "query timeout must not be negative")
	}
	if err := cfg.Generation.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		retriever: r,
		assembler: a,
		generator: g,
		cfg:       cfg,
		tracer:    otel.Tracer("ragchain.knowledge.query"),
	}, nil
}

// Answer runs the pipeline for question. On failure the returned error is a
// *knowledge.Error naming the failed stage and the Answer ends in StateFailed.
// Every provider call made here is cancelled before Answer returns.
func (e *Engine) Answer(ctx context.Context, question string) (*Answer, error) {
	start := time.Now()
	answer := &Answer{QueryID: core.MustNewID(), Question: question, State: StateIdle}
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "ragchain.knowledge.query.answer", trace.WithAttributes(
		attribute.String("query_id", answer.QueryID.String()),
	))
	defer span.End()
	log := logger.FromContext(ctx).With("query_id", answer.QueryID)
	ctx = logger.ContextWithLogger(ctx, log)

	tr := newRun(ctx, answer.QueryID)
	err := e.execute(ctx, tr, answer)
	answer.State = tr.state()
	answer.Transitions = tr.transitions()
	answer.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		knowledge.RecordQueryOutcome(ctx, string(answer.State), knowledge.KindOf(err))
		log.Warn("Query failed", "state", answer.State, "error", err, "duration", answer.Duration)
		return answer, err
	}
	span.SetAttributes(attribute.Int("sources", len(answer.Sources)))
	knowledge.RecordQueryOutcome(ctx, string(answer.State), "")
	log.Info("Query answered", "sources", len(answer.Sources), "duration", answer.Duration)
	return answer, nil
}

func (e *Engine) execute(ctx context.Context, tr *run, answer *Answer) error {
	if err := tr.fire(ctx, EventRetrieve); err != nil {
		return err
	}
	results, err := stage(ctx, stageRetrieve, func(ctx context.Context) ([]vectordb.Result, error) {
		return e.retriever.Retrieve(ctx, answer.Question, e.cfg.TopK)
	})
	if err != nil {
		return e.fail(ctx, tr, answer, stageRetrieve, knowledge.KindEmbeddingFailure, err)
	}
	answer.Sources = results

	if err := tr.fire(ctx, EventAssemble); err != nil {
		return err
	}
	req, err := stage(ctx, stageAssemble, func(ctx context.Context) (prompt.Request, error) {
		if err := ctx.Err(); err != nil {
			return prompt.Request{}, err
		}
		return e.assembler.Assemble(results, answer.Question), nil
	})
	if err != nil {
		return e.fail(ctx, tr, answer, stageAssemble, knowledge.KindTemplateError, err)
	}
	answer.Prompt = req.Prompt

	if err := tr.fire(ctx, EventGenerate); err != nil {
		return err
	}
	text, err := stage(ctx, stageGenerate, func(ctx context.Context) (string, error) {
		return e.generator.Generate(ctx, req.Prompt, e.cfg.Generation)
	})
	if err != nil {
		return e.fail(ctx, tr, answer, stageGenerate, knowledge.KindGenerationFailure, err)
	}
	answer.Text = strings.TrimSpace(text)
	return tr.fire(ctx, EventComplete)
}

// fail classifies err for stage and moves the query to StateFailed. A query whose
// deadline expired fails with a timeout and a query cancelled by the caller fails
// as canceled, regardless of how the collaborator reported it.
func (e *Engine) fail(
	ctx context.Context,
	tr *run,
	answer *Answer,
	stageName string,
	fallback knowledge.Kind,
	err error,
) error {
	var kerr *knowledge.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !knowledge.IsTimeout(err):
		kerr = knowledge.NewError(knowledge.KindTimeout, stageName, errors.Join(context.DeadlineExceeded, err))
	case errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, context.Canceled):
		kerr = knowledge.NewError(knowledge.KindCanceled, stageName, errors.Join(context.Canceled, err))
	default:
		kerr = knowledge.Classify(stageName, fallback, err)
	}
	answer.FailureReason = kerr.Error()
	if fireErr := tr.fire(ctx, EventFail, kerr); fireErr != nil {
		logger.FromContext(ctx).Error("Query failure transition rejected", "error", fireErr)
	}
	return kerr
}

func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	knowledge.RecordStageDuration(ctx, name, time.Since(start))
	return out, err
}
