package query

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/pkg/logger"
)

type State string

const (
	StateIdle       State = "idle"
	StateRetrieving State = "retrieving"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

const (
	EventRetrieve = "retrieve"
	EventAssemble = "assemble"
	EventGenerate = "generate"
	EventComplete = "complete"
	EventFail     = "fail"
)

// Transition records one state change of a query.
type Transition struct {
	Event string
	From  State
	To    State
	At    time.Time
}

func queryFSMEvents() fsm.Events {
	return fsm.Events{
		{Name: EventRetrieve, Src: []string{string(StateIdle)}, Dst: string(StateRetrieving)},
		{Name: EventAssemble, Src: []string{string(StateRetrieving)}, Dst: string(StateAssembling)},
		{Name: EventGenerate, Src: []string{string(StateAssembling)}, Dst: string(StateGenerating)},
		{Name: EventComplete, Src: []string{string(StateGenerating)}, Dst: string(StateDone)},
		{
			Name: EventFail,
			Src: []string{
				string(StateRetrieving),
				string(StateAssembling),
				string(StateGenerating),
			},
			Dst: string(StateFailed),
		},
	}
}

// run is the per-query traversal. Each Answer call owns one.
type run struct {
	queryID  core.ID
	machine  *fsm.FSM
	observer *transitionObserver
}

func newRun(ctx context.Context, queryID core.ID) *run {
	observer := newTransitionObserver(ctx, queryID)
	machine := fsm.NewFSM(
		string(StateIdle),
		queryFSMEvents(),
		fsm.Callbacks{
			"before_event": func(cbCtx context.Context, e *fsm.Event) { observer.BeforeEvent(cbCtx, e) },
			"after_event":  func(cbCtx context.Context, e *fsm.Event) { observer.AfterEvent(cbCtx, e) },
		},
	)
	return &run{queryID: queryID, machine: machine, observer: observer}
}

// fire applies event. Transitions use a context detached from cancellation so a
// query that timed out can still reach the failed state.
func (r *run) fire(ctx context.Context, event string, args ...any) error {
	return r.machine.Event(context.WithoutCancel(ctx), event, args...)
}

func (r *run) state() State {
	return State(r.machine.Current())
}

func (r *run) transitions() []Transition {
	return r.observer.history()
}

type transitionObserver struct {
	now     func() time.Time
	baseCtx context.Context
	queryID core.ID

	mu        sync.Mutex
	startedAt time.Time
	log       []Transition
}

func newTransitionObserver(ctx context.Context, queryID core.ID) *transitionObserver {
	return &transitionObserver{now: time.Now, baseCtx: ctx, queryID: queryID}
}

func (o *transitionObserver) resolveContext(cbCtx context.Context) context.Context {
	if cbCtx != nil {
		return cbCtx
	}
	if o.baseCtx != nil {
		return o.baseCtx
	}
	return context.TODO()
}

func (o *transitionObserver) BeforeEvent(cbCtx context.Context, e *fsm.Event) {
	o.mu.Lock()
	o.startedAt = o.now()
	o.mu.Unlock()
	logger.FromContext(o.resolveContext(cbCtx)).Debug(
		"Query transition start",
		"query_id", o.queryID,
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	)
}

func (o *transitionObserver) AfterEvent(cbCtx context.Context, e *fsm.Event) {
	now := o.now()
	o.mu.Lock()
	duration := now.Sub(o.startedAt)
	o.log = append(o.log, Transition{Event: e.Event, From: State(e.Src), To: State(e.Dst), At: now})
	o.mu.Unlock()
	keyvals := []any{
		"query_id", o.queryID,
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
		"duration_ms", duration.Milliseconds(),
	}
	if e.Event == EventFail && len(e.Args) > 0 {
		if reason, ok := e.Args[0].(error); ok {
			keyvals = append(keyvals, "error", reason)
		}
	}
	logger.FromContext(o.resolveContext(cbCtx)).Debug("Query transition complete", keyvals...)
}

func (o *transitionObserver) history() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.log...)
}
