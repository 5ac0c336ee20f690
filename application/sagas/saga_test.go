package sagas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaga_ChainsOutputs(t *testing.T) {
	saga := New("chain", zap.NewNop()).
		Then("double", func(_ context.Context, in any) (any, error) { return in.(int) * 2, nil }, nil).
		Then("inc", func(_ context.Context, in any) (any, error) { return in.(int) + 1, nil }, nil)

	result, err := saga.Run(context.Background(), 5)

	require.NoError(t, err)
	assert.Equal(t, 11, result)
	assert.Equal(t, StateCompleted, saga.State())
	assert.NotEmpty(t, saga.ID())
}

func TestSaga_RollsBackNewestFirstIncludingPartialStep(t *testing.T) {
	// Arrange
	var undone []string
	boom := errors.New("boom")
	record := func(_ context.Context, out any) error {
		undone = append(undone, out.(string))
		return nil
	}
	saga := New("import", zap.NewNop()).
		Then("agents", func(context.Context, any) (any, error) { return "agents", nil }, record).
		Then("tasks", func(context.Context, any) (any, error) { return "tasks-partial", boom }, record).
		Then("never", func(context.Context, any) (any, error) {
			t.Fatal("step after failure must not run")
			return nil, nil
		}, nil)

	// Act
	_, err := saga.Run(context.Background(), nil)

	// Assert
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"tasks-partial", "agents"}, undone)
	assert.Equal(t, StateRolledBack, saga.State())
	assert.Equal(t, "tasks", saga.FailedStep())
}

func TestSaga_FailedStepWithoutOutputIsNotUndone(t *testing.T) {
	var undone []string
	saga := New("import", zap.NewNop()).
		Then("agents", func(context.Context, any) (any, error) { return "agents", nil },
			func(context.Context, any) error { undone = append(undone, "agents"); return nil }).
		Then("tasks", func(context.Context, any) (any, error) { return nil, errors.New("down") },
			func(context.Context, any) error { undone = append(undone, "tasks"); return nil })

	_, err := saga.Run(context.Background(), nil)

	assert.Error(t, err)
	assert.Equal(t, []string{"agents"}, undone)
}

func TestSaga_FailingUndoDoesNotStopOthers(t *testing.T) {
	var undone []string
	saga := New("import", zap.NewNop()).
		Then("a", func(context.Context, any) (any, error) { return "a", nil },
			func(context.Context, any) error { undone = append(undone, "a"); return nil }).
		Then("b", func(context.Context, any) (any, error) { return "b", nil },
			func(context.Context, any) error { return errors.New("delete failed") }).
		Then("c", func(context.Context, any) (any, error) { return nil, errors.New("fail") }, nil)

	_, err := saga.Run(context.Background(), nil)

	assert.Error(t, err)
	assert.Equal(t, []string{"a"}, undone)
	assert.Equal(t, StateRollbackFailed, saga.State())
}

func TestSaga_UndoRunsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoErr error
	saga := New("import", zap.NewNop()).
		Then("a", func(context.Context, any) (any, error) { return "a", nil },
			func(ctx context.Context, _ any) error { undoErr = ctx.Err(); return nil }).
		Then("b", func(context.Context, any) (any, error) {
			cancel()
			return nil, context.Canceled
		}, nil)

	_, err := saga.Run(ctx, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, undoErr)
}

func TestSaga_RetriesStep(t *testing.T) {
	attempts := 0
	saga := New("retry", zap.NewNop()).Add(Step{
		Name: "flaky",
		Run: func(context.Context, any) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
		Attempts: 3,
		Backoff:  time.Millisecond,
	})

	result, err := saga.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestSaga_RetryGivesUp(t *testing.T) {
	transient := errors.New("transient")
	saga := New("retry", zap.NewNop()).Add(Step{
		Name:     "flaky",
		Run:      func(context.Context, any) (any, error) { return nil, transient },
		Attempts: 2,
		Backoff:  time.Millisecond,
	})

	_, err := saga.Run(context.Background(), nil)

	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
}
