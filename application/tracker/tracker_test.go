package tracker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"crewcanvas/application/ports"
	"crewcanvas/application/ports/mocks"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock     *clock.Fake
	store     *tabs.Store
	backend   *mocks.MockBackend
	publisher *mocks.RecordingPublisher
	tracker   *Tracker
}

func newFixture() *fixture {
	clk := clock.NewFake(epoch)
	store := tabs.NewStore(clk, zap.NewNop())
	backend := new(mocks.MockBackend)
	publisher := &mocks.RecordingPublisher{}
	tr := New(store, backend, publisher, Config{}, clk, zap.NewNop())
	tr.Watch()
	return &fixture{clock: clk, store: store, backend: backend, publisher: publisher, tracker: tr}
}

func (f *fixture) status(id valueobjects.TabID) valueobjects.ExecutionStatus {
	return f.store.Tab(id).ExecutionStatus
}

func TestSafetyTimeout_ForcesCompletion(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.store.CreateTab("")
	require.True(t, f.tracker.Begin(tab.ID, "job-1"))
	require.Equal(t, "job-1", f.tracker.TrackedJobID())

	// Act
	f.clock.Advance(5*time.Minute + time.Second)

	// Assert
	assert.Equal(t, valueobjects.ExecutionCompleted, f.status(tab.ID))
	assert.Empty(t, f.tracker.TrackedJobID())
	_, tracked := f.tracker.JobTab("job-1")
	assert.False(t, tracked)
}

func TestSafetyTimeout_ArmedByDirectStatusUpdate(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")

	f.store.UpdateTabExecutionStatus(tab.ID, valueobjects.ExecutionRunning)
	f.clock.Advance(5*time.Minute - time.Second)
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(tab.ID))

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, valueobjects.ExecutionCompleted, f.status(tab.ID))
}

func TestSafetyTimeout_LateSignalIsIgnored(t *testing.T) {
	f := newFixture()
	other := f.store.CreateTab("other")
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.clock.Advance(6 * time.Minute)
	f.store.UpdateTabExecutionStatus(other.ID, valueobjects.ExecutionRunning)

	changed := f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionFailed})

	assert.Empty(t, changed)
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(other.ID))
}

func TestHandleSignal_CorrelatesByJobID(t *testing.T) {
	// Arrange
	f := newFixture()
	a := f.store.CreateTab("a")
	b := f.store.CreateTab("b")
	f.tracker.Begin(a.ID, "job-a")
	f.tracker.Begin(b.ID, "job-b")

	// Act
	changed := f.tracker.HandleSignal(JobSignal{JobID: "job-a", Status: valueobjects.ExecutionFailed})

	// Assert
	assert.Equal(t, []valueobjects.TabID{a.ID}, changed)
	assert.Equal(t, valueobjects.ExecutionFailed, f.status(a.ID))
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(b.ID))
	assert.Equal(t, "job-b", f.tracker.TrackedJobID())
}

func TestHandleSignal_RepeatedCompletionIsIdempotent(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.clock.Advance(time.Minute)
	f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionCompleted})
	first := *f.store.Tab(tab.ID).LastExecutionTime

	// Act
	f.clock.Advance(30 * time.Second)
	changed := f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionCompleted})

	// Assert
	assert.Empty(t, changed)
	got := f.store.Tab(tab.ID)
	assert.Equal(t, valueobjects.ExecutionCompleted, got.ExecutionStatus)
	assert.Equal(t, first, *got.LastExecutionTime)
	assert.Equal(t, epoch.Add(time.Minute), first)
}

func TestHandleSignal_UnknownJobClearsActiveRunningTab(t *testing.T) {
	f := newFixture()
	background := f.store.CreateTab("background")
	active := f.store.CreateTab("active")
	f.store.UpdateTabExecutionStatus(background.ID, valueobjects.ExecutionRunning)
	f.store.UpdateTabExecutionStatus(active.ID, valueobjects.ExecutionRunning)

	changed := f.tracker.HandleSignal(JobSignal{JobID: "chat-job", Status: valueobjects.ExecutionCompleted})

	assert.Equal(t, []valueobjects.TabID{active.ID}, changed)
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(background.ID))
}

func TestHandleSignal_UnknownJobClearsEveryRunningTab(t *testing.T) {
	f := newFixture()
	a := f.store.CreateTab("a")
	b := f.store.CreateTab("b")
	idle := f.store.CreateTab("idle")
	f.store.UpdateTabExecutionStatus(a.ID, valueobjects.ExecutionRunning)
	f.store.UpdateTabExecutionStatus(b.ID, valueobjects.ExecutionRunning)

	changed := f.tracker.HandleSignal(JobSignal{Status: valueobjects.ExecutionCompleted})

	assert.ElementsMatch(t, []valueobjects.TabID{a.ID, b.ID}, changed)
	assert.Equal(t, valueobjects.ExecutionIdle, f.status(idle.ID))
}

func TestHandleSignal_IgnoresNonTerminalStatus(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")

	assert.Nil(t, f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionRunning}))
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(tab.ID))
}

func TestHandle_BusEvents(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")

	err := f.tracker.Handle(context.Background(), events.NewJobFailed("job-1", "llm quota", epoch))

	require.NoError(t, err)
	assert.Equal(t, valueobjects.ExecutionFailed, f.status(tab.ID))
}

func TestExpiry_ResetsTerminalStatus(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionCompleted})

	f.clock.Advance(5*time.Minute - time.Second)
	assert.Equal(t, valueobjects.ExecutionCompleted, f.status(tab.ID))

	f.clock.Advance(time.Second)
	assert.Equal(t, valueobjects.ExecutionIdle, f.status(tab.ID))
	assert.Equal(t, 0, f.clock.Pending())
}

func TestBegin_AfterTerminalStatusStartsFresh(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionFailed})

	f.tracker.Begin(tab.ID, "job-2")
	f.clock.Advance(4 * time.Minute)

	assert.Equal(t, valueobjects.ExecutionRunning, f.status(tab.ID), "expiry of the old run must not clear the new one")
	assert.Equal(t, "job-2", f.tracker.TrackedJobID())
}

func TestTimersCancelledOnCloseAndClear(t *testing.T) {
	f := newFixture()
	keep := f.store.CreateTab("keep")
	a := f.store.CreateTab("a")
	f.tracker.Begin(a.ID, "job-a")
	f.tracker.Begin(keep.ID, "job-keep")
	f.tracker.HandleSignal(JobSignal{JobID: "job-keep", Status: valueobjects.ExecutionCompleted})
	require.Equal(t, 2, f.clock.Pending())

	f.store.CloseTab(a.ID)
	assert.Equal(t, 1, f.clock.Pending())
	assert.Empty(t, f.tracker.TrackedJobID())

	f.store.ClearTabExecutionStatus(keep.ID)
	assert.Equal(t, 0, f.clock.Pending())

	f.tracker.Begin(keep.ID, "job-3")
	f.store.ClearAllTabs()
	assert.Equal(t, 0, f.clock.Pending())
	assert.Empty(t, f.tracker.TrackedJobID())
}

func TestReconcile_AppliesRunHistory(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.backend.On("ListRuns", mock.Anything, DefaultHistoryLimit).Return([]ports.Run{
		{JobID: "job-0", Status: ports.RunStatusCompleted},
		{JobID: "job-1", Status: ports.RunStatusFailed},
	}, nil)

	// Act
	err := f.tracker.Reconcile(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.ExecutionFailed, f.status(tab.ID))
	run, ok := f.tracker.CachedRun("job-0")
	assert.True(t, ok)
	assert.Equal(t, ports.RunStatusCompleted, run.Status)
}

func TestReconcile_StillRunningLeavesTabAlone(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.backend.On("ListRuns", mock.Anything, mock.Anything).Return([]ports.Run{{JobID: "job-1", Status: ports.RunStatusRunning}}, nil)

	require.NoError(t, f.tracker.Reconcile(context.Background()))

	assert.Equal(t, valueobjects.ExecutionRunning, f.status(tab.ID))
}

func TestReconcile_BackendErrorKeepsState(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.tracker.Begin(tab.ID, "job-1")
	f.backend.On("ListRuns", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	err := f.tracker.Reconcile(context.Background())

	assert.Error(t, err)
	assert.Equal(t, valueobjects.ExecutionRunning, f.status(tab.ID))
}

func TestReconcile_NothingTrackedSkipsBackend(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.tracker.Reconcile(context.Background()))

	f.backend.AssertNotCalled(t, "ListRuns", mock.Anything, mock.Anything)
}

func TestPublishesStatusChanges(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")

	f.tracker.Begin(tab.ID, "job-1")
	f.tracker.HandleSignal(JobSignal{JobID: "job-1", Status: valueobjects.ExecutionCompleted})

	recorded := f.publisher.Events()
	require.Len(t, recorded, 2)
	first := recorded[0].(events.ExecutionStatusChanged)
	assert.Equal(t, valueobjects.ExecutionIdle, first.From)
	assert.Equal(t, valueobjects.ExecutionRunning, first.To)
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, valueobjects.ExecutionCompleted, recorded[1].(events.ExecutionStatusChanged).To)
}

func TestStatusOnlyFollowsDocumentedTransitions(t *testing.T) {
	f := newFixture()
	var observed []tabs.Change
	f.store.Subscribe(func(c tabs.Change) {
		if c.Kind == tabs.ChangeStatus {
			observed = append(observed, c)
		}
	})
	for i := 0; i < 3; i++ {
		f.store.CreateTab("")
	}
	statuses := []valueobjects.ExecutionStatus{
		valueobjects.ExecutionIdle, valueobjects.ExecutionRunning,
		valueobjects.ExecutionCompleted, valueobjects.ExecutionFailed,
	}
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 500; i++ {
		all := f.store.Tabs()
		tab := all[rng.Intn(len(all))]
		switch rng.Intn(5) {
		case 0:
			f.tracker.Begin(tab.ID, "job")
		case 1:
			f.tracker.HandleSignal(JobSignal{JobID: "job", Status: statuses[2+rng.Intn(2)]})
		case 2:
			f.store.UpdateTabExecutionStatus(tab.ID, statuses[rng.Intn(len(statuses))])
		case 3:
			f.store.ClearTabExecutionStatus(tab.ID)
		case 4:
			f.clock.Advance(time.Duration(rng.Intn(400)) * time.Second)
		}
	}

	require.NotEmpty(t, observed)
	for _, c := range observed {
		assert.True(t, valueobjects.CanTransition(c.From, c.To), "%s -> %s", c.From, c.To)
	}
}
