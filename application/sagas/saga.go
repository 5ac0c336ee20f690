// Package sagas runs multi-step backend workflows and undoes completed
// steps, newest first, when a later one fails.
package sagas

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunFunc executes a step on the previous step's output
type RunFunc func(ctx context.Context, in any) (any, error)

// UndoFunc reverts a step given what it produced
type UndoFunc func(ctx context.Context, out any) error

// Step is one unit of work. A failing Run may still return what it managed
// to create; Undo is then called with that partial output.
type Step struct {
	Name     string
	Run      RunFunc
	Undo     UndoFunc
	Attempts int
	Backoff  time.Duration
}

// State tracks a saga through its lifecycle
type State string

const (
	StatePending        State = "pending"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateRollingBack    State = "rolling_back"
	StateRolledBack     State = "rolled_back"
	StateRollbackFailed State = "rollback_failed"
)

type undoEntry struct {
	step string
	fn   func(ctx context.Context) error
}

// Saga is a sequence of steps with rollback. A Saga runs once.
type Saga struct {
	id         string
	name       string
	steps      []Step
	undo       []undoEntry
	state      State
	failedStep string
	logger     *zap.Logger
}

// New creates an empty saga
func New(name string, logger *zap.Logger) *Saga {
	return &Saga{
		id:     uuid.NewString(),
		name:   name,
		state:  StatePending,
		logger: logger.With(zap.String("saga", name)),
	}
}

// Then appends a step. undo may be nil for steps with nothing to revert.
func (s *Saga) Then(name string, run RunFunc, undo UndoFunc) *Saga {
	return s.Add(Step{Name: name, Run: run, Undo: undo})
}

// Add appends a fully specified step
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order, chaining outputs. When a step fails the
// rollback runs (even if ctx is already cancelled) and the step's error is
// returned.
func (s *Saga) Run(ctx context.Context, in any) (any, error) {
	s.state = StateRunning
	s.logger.Debug("Saga started", zap.String("saga_id", s.id), zap.Int("steps", len(s.steps)))

	data := in
	for _, step := range s.steps {
		out, err := s.attempt(ctx, step, data)
		if step.Undo != nil && (err == nil || out != nil) {
			s.pushUndo(step, out)
		}
		if err != nil {
			s.failedStep = step.Name
			s.logger.Warn("Saga step failed, rolling back",
				zap.String("saga_id", s.id),
				zap.String("step", step.Name),
				zap.Int("undo_steps", len(s.undo)),
				zap.Error(err),
			)
			s.rollback(context.WithoutCancel(ctx))
			return nil, err
		}
		data = out
	}

	s.state = StateCompleted
	s.logger.Debug("Saga completed", zap.String("saga_id", s.id))
	return data, nil
}

func (s *Saga) pushUndo(step Step, out any) {
	s.undo = append(s.undo, undoEntry{
		step: step.Name,
		fn:   func(ctx context.Context) error { return step.Undo(ctx, out) },
	})
}

func (s *Saga) attempt(ctx context.Context, step Step, in any) (any, error) {
	attempts := max(step.Attempts, 1)
	backoff := step.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var (
		out any
		err error
	)
	for i := 1; i <= attempts; i++ {
		out, err = step.Run(ctx, in)
		if err == nil {
			return out, nil
		}
		if i == attempts {
			break
		}
		s.logger.Debug("Retrying saga step",
			zap.String("step", step.Name),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return out, ctx.Err()
		case <-t.C:
		}
	}
	if attempts > 1 {
		return out, fmt.Errorf("%s: gave up after %d attempts: %w", step.Name, attempts, err)
	}
	return out, err
}

// rollback undoes recorded steps newest first. A failed undo is logged and
// the rest still run.
func (s *Saga) rollback(ctx context.Context) {
	s.state = StateRollingBack
	failed := 0
	for i := len(s.undo) - 1; i >= 0; i-- {
		entry := s.undo[i]
		if err := entry.fn(ctx); err != nil {
			failed++
			s.logger.Error("Saga undo failed",
				zap.String("saga_id", s.id),
				zap.String("step", entry.step),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		s.state = StateRollbackFailed
		return
	}
	s.state = StateRolledBack
}

// State returns where the saga is in its lifecycle
func (s *Saga) State() State { return s.state }

// ID returns the saga's unique id
func (s *Saga) ID() string { return s.id }

// FailedStep names the step that failed, if any
func (s *Saga) FailedStep() string { return s.failedStep }
