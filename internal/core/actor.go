package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"VaultLedger/internal/event"

	"github.com/rs/zerolog"
)

// ErrActorStopped is returned for work submitted after the actor exited.
var ErrActorStopped = errors.New("engine actor stopped")

// Actor serializes every engine access (commands from NATS, gRPC and the
// scheduler, and live reads) through one goroutine.
type Actor struct {
	engine   *Engine
	inbox    chan *job
	stopped  chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

type job struct {
	ctx   context.Context
	fn    func(ctx context.Context, e *Engine)
	done  chan struct{}
	panic error
}

func NewActor(engine *Engine, queueSize int, logger zerolog.Logger) *Actor {
	return &Actor{
		engine:  engine,
		inbox:   make(chan *job, queueSize),
		stopped: make(chan struct{}),
		logger:  logger.With().Str("component", "actor").Logger(),
	}
}

// Run processes jobs until ctx is cancelled.
func (a *Actor) Run(ctx context.Context) error {
	defer a.stopOnce.Do(func() { close(a.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-a.inbox:
			a.run(j)
		}
	}
}

func (a *Actor) run(j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			j.panic = fmt.Errorf("engine panic: %v", r)
			a.logger.Error().Interface("panic", r).Msg("recovered panic in engine job")
		}
	}()
	j.fn(j.ctx, a.engine)
}

// Do runs fn on the engine goroutine and waits for it. Once enqueued the
// job runs to completion even if ctx is cancelled; fn sees ctx.
func (a *Actor) Do(ctx context.Context, fn func(ctx context.Context, e *Engine)) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case a.inbox <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrActorStopped
	}
	select {
	case <-j.done:
	case <-a.stopped:
		select {
		case <-j.done:
		default:
			return ErrActorStopped
		}
	}
	return j.panic
}

// Submit executes cmd on the engine goroutine.
func (a *Actor) Submit(ctx context.Context, cmd event.Command) (*Result, error) {
	var (
		res *Result
		err error
	)
	if derr := a.Do(ctx, func(ctx context.Context, e *Engine) {
		res, err = e.Execute(ctx, cmd)
	}); derr != nil {
		return nil, derr
	}
	return res, err
}

// Pending reports queued jobs.
func (a *Actor) Pending() int {
	return len(a.inbox)
}
