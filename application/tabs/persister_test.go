package tabs

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewcanvas/application/ports/mocks"
	"crewcanvas/domain/core/aggregates"
	apperrors "crewcanvas/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPersister_DebouncesSaves(t *testing.T) {
	// Arrange
	store, clk := newTestStore()
	repo := new(mocks.MockSessionRepository)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(s aggregates.SessionSnapshot) bool {
		return s.SessionID == "browser-1" && len(s.Tabs) == 2
	})).Return(nil).Once()
	p := NewPersister(store, repo, "browser-1", time.Second, clk, zap.NewNop())
	p.Start()
	defer p.Stop()

	// Act
	store.CreateTab("a")
	clk.Advance(500 * time.Millisecond)
	store.CreateTab("b")
	clk.Advance(500 * time.Millisecond)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	clk.Advance(time.Second)

	// Assert
	repo.AssertExpectations(t)
}

func TestPersister_SaveFailureIsNotFatal(t *testing.T) {
	store, clk := newTestStore()
	repo := new(mocks.MockSessionRepository)
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	p := NewPersister(store, repo, "s", time.Second, clk, zap.NewNop())
	p.Start()

	store.CreateTab("a")
	clk.Advance(2 * time.Second)

	assert.Equal(t, 1, store.Len())
	assert.Error(t, p.Flush(context.Background()))
}

func TestPersister_StopDropsPendingSave(t *testing.T) {
	store, clk := newTestStore()
	repo := new(mocks.MockSessionRepository)
	p := NewPersister(store, repo, "s", time.Second, clk, zap.NewNop())
	p.Start()

	store.CreateTab("a")
	p.Stop()
	clk.Advance(time.Minute)

	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestPersister_Restore(t *testing.T) {
	source, _ := newTestStore()
	tab := source.CreateTab("saved")
	snap := source.Snapshot()

	store, clk := newTestStore()
	repo := new(mocks.MockSessionRepository)
	repo.On("Load", mock.Anything, "s").Return(&snap, nil)
	p := NewPersister(store, repo, "s", time.Second, clk, zap.NewNop())

	require.True(t, p.Restore(context.Background()))
	assert.Equal(t, tab.ID, store.ActiveTabID())
}

func TestPersister_RestoreMissingSession(t *testing.T) {
	store, clk := newTestStore()
	repo := new(mocks.MockSessionRepository)
	repo.On("Load", mock.Anything, "s").Return(nil, apperrors.NewNotFoundError("session s"))
	p := NewPersister(store, repo, "s", time.Second, clk, zap.NewNop())

	assert.False(t, p.Restore(context.Background()))
	assert.Equal(t, 0, store.Len())
}
