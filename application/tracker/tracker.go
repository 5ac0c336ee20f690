// Package tracker follows backend jobs for tabs and keeps each tab's
// execution badge honest: it applies completion signals, polls run history
// when signals go missing, forces stuck runs to finish after a safety
// timeout and resets terminal badges once they expire.
package tracker

import (
	"context"
	"sync"
	"time"

	"crewcanvas/application/ports"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/pkg/clock"

	"go.uber.org/zap"
)

// Defaults for Config
const (
	DefaultSafetyTimeout = 5 * time.Minute
	DefaultStatusTTL     = 5 * time.Minute
	DefaultPollInterval  = 15 * time.Second
	DefaultHistoryLimit  = 50
)

// Config tunes a Tracker
type Config struct {
	SafetyTimeout time.Duration
	StatusTTL     time.Duration
	PollInterval  time.Duration
	HistoryLimit  int
}

func (c Config) withDefaults() Config {
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = DefaultSafetyTimeout
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = DefaultStatusTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return c
}

// JobSignal reports that a backend job reached a terminal state
type JobSignal struct {
	JobID  string                       `json:"jobId"`
	Status valueobjects.ExecutionStatus `json:"status" validate:"required,oneof=completed failed"`
}

// Tracker owns the tracked job, the job to tab correlation, and every
// execution timer. Store mutations are never made while t.mu is held:
// the store notifies synchronously and the tracker listens.
type Tracker struct {
	store     *tabs.Store
	jobs      ports.JobService
	publisher ports.EventPublisher
	clock     clock.Clock
	logger    *zap.Logger

	mu           sync.Mutex
	cfg          Config
	trackedJobID string
	jobTabs      map[string]valueobjects.TabID
	safety       map[valueobjects.TabID]timerEntry
	expiry       map[valueobjects.TabID]timerEntry
	timerGen     uint64
	finished     map[string]struct{}
	history      map[string]ports.Run
	unsubscribe  func()
}

type timerEntry struct {
	timer clock.Timer
	gen   uint64
}

// New creates a tracker. Call Watch to connect it to the store.
func New(store *tabs.Store, jobs ports.JobService, publisher ports.EventPublisher, cfg Config, clk clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:     store,
		jobs:      jobs,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		jobTabs:   make(map[string]valueobjects.TabID),
		safety:    make(map[valueobjects.TabID]timerEntry),
		expiry:    make(map[valueobjects.TabID]timerEntry),
		finished:  make(map[string]struct{}),
		history:   make(map[string]ports.Run),
	}
}

// Watch subscribes the tracker to store changes
func (t *Tracker) Watch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubscribe == nil {
		t.unsubscribe = t.store.Subscribe(t.onChange)
	}
}

// Close stops watching the store and cancels every timer
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	for id := range t.safety {
		t.cancelLocked(t.safety, id)
	}
	for id := range t.expiry {
		t.cancelLocked(t.expiry, id)
	}
}

// SetPollInterval changes the reconciliation interval used by Run
func (t *Tracker) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.PollInterval = d
}

// TrackedJobID returns the job currently tracked, if any
func (t *Tracker) TrackedJobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackedJobID
}

// JobTab returns the tab a job was started from
func (t *Tracker) JobTab(jobID string) (valueobjects.TabID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.jobTabs[jobID]
	return id, ok
}

// Begin records that jobID runs for tabID and moves the tab to running,
// clearing a leftover terminal status first.
func (t *Tracker) Begin(tabID valueobjects.TabID, jobID string) bool {
	tab := t.store.Tab(tabID)
	if tab == nil {
		return false
	}

	t.mu.Lock()
	t.trackedJobID = jobID
	for job, id := range t.jobTabs {
		if id == tabID {
			delete(t.jobTabs, job)
		}
	}
	t.jobTabs[jobID] = tabID
	delete(t.finished, jobID)
	t.mu.Unlock()

	if tab.ExecutionStatus.IsTerminal() {
		t.store.ClearTabExecutionStatus(tabID)
	}
	if !t.store.UpdateTabExecutionStatus(tabID, valueobjects.ExecutionRunning) {
		// Already running: restart the safety window for the new job
		t.mu.Lock()
		t.armSafetyLocked(tabID)
		t.mu.Unlock()
	}

	t.logger.Info("Tracking job",
		zap.String("job_id", jobID),
		zap.String("tab_id", tabID.String()),
	)
	return true
}

// HandleSignal applies a completion signal. The job's own tab is updated
// when the job is known. Otherwise the active tab is updated if it is
// running, and failing that every running tab. Repeated signals change
// nothing. It returns the tabs that changed.
func (t *Tracker) HandleSignal(sig JobSignal) []valueobjects.TabID {
	if !sig.Status.IsTerminal() {
		return nil
	}

	t.mu.Lock()
	tabID, known := t.jobTabs[sig.JobID]
	_, done := t.finished[sig.JobID]
	if sig.JobID != "" {
		t.finished[sig.JobID] = struct{}{}
		t.history[sig.JobID] = ports.Run{JobID: sig.JobID, Status: string(sig.Status)}
	}
	t.mu.Unlock()

	if done && !known {
		return nil
	}

	var changed []valueobjects.TabID
	switch {
	case known && t.store.UpdateTabExecutionStatus(tabID, sig.Status):
		changed = append(changed, tabID)
	case known && alreadyAt(t.store.Tab(tabID), sig.Status):
		// Duplicate delivery
	default:
		// Unknown job, or its tab is gone or no longer running
		changed = t.fallback(sig)
	}

	t.mu.Lock()
	delete(t.jobTabs, sig.JobID)
	for _, id := range changed {
		for job, jobTab := range t.jobTabs {
			if jobTab == id {
				delete(t.jobTabs, job)
				if t.trackedJobID == job {
					t.trackedJobID = ""
				}
			}
		}
	}
	if t.trackedJobID == sig.JobID {
		t.trackedJobID = ""
	}
	t.mu.Unlock()

	if len(changed) > 0 {
		t.logger.Info("Job signal applied",
			zap.String("job_id", sig.JobID),
			zap.String("status", string(sig.Status)),
			zap.Int("tabs", len(changed)),
			zap.Bool("correlated", known),
		)
	}
	return changed
}

func alreadyAt(tab *aggregates.Tab, status valueobjects.ExecutionStatus) bool {
	return tab != nil && tab.ExecutionStatus == status
}

func (t *Tracker) fallback(sig JobSignal) []valueobjects.TabID {
	if active := t.store.ActiveTab(); active != nil && active.ExecutionStatus == valueobjects.ExecutionRunning {
		if t.store.UpdateTabExecutionStatus(active.ID, sig.Status) {
			return []valueobjects.TabID{active.ID}
		}
	}

	var changed []valueobjects.TabID
	for _, tab := range t.store.Tabs() {
		if tab.ExecutionStatus != valueobjects.ExecutionRunning {
			continue
		}
		if t.store.UpdateTabExecutionStatus(tab.ID, sig.Status) {
			changed = append(changed, tab.ID)
		}
	}
	if len(changed) > 0 {
		t.logger.Warn("Uncorrelated job signal cleared running tabs",
			zap.String("job_id", sig.JobID),
			zap.Int("tabs", len(changed)),
		)
	}
	return changed
}

// Handle consumes jobCompleted and jobFailed events from the bus
func (t *Tracker) Handle(_ context.Context, event events.DomainEvent) error {
	switch e := event.(type) {
	case events.JobCompleted:
		t.HandleSignal(JobSignal{JobID: e.JobID, Status: valueobjects.ExecutionCompleted})
	case events.JobFailed:
		t.HandleSignal(JobSignal{JobID: e.JobID, Status: valueobjects.ExecutionFailed})
	}
	return nil
}

// Reconcile refreshes the cached run history and applies any terminal
// status it shows for jobs still being tracked.
func (t *Tracker) Reconcile(ctx context.Context) error {
	t.mu.Lock()
	pending := len(t.jobTabs)
	limit := t.cfg.HistoryLimit
	t.mu.Unlock()
	if pending == 0 {
		return nil
	}

	runs, err := t.jobs.ListRuns(ctx, limit)
	if err != nil {
		t.logger.Warn("Run history refresh failed", zap.Error(err))
		return err
	}

	t.mu.Lock()
	var signals []JobSignal
	for _, run := range runs {
		t.history[run.JobID] = run
		if _, tracked := t.jobTabs[run.JobID]; !tracked {
			continue
		}
		switch run.Status {
		case ports.RunStatusCompleted:
			signals = append(signals, JobSignal{JobID: run.JobID, Status: valueobjects.ExecutionCompleted})
		case ports.RunStatusFailed:
			signals = append(signals, JobSignal{JobID: run.JobID, Status: valueobjects.ExecutionFailed})
		}
	}
	t.mu.Unlock()

	for _, sig := range signals {
		t.HandleSignal(sig)
	}
	return nil
}

// CachedRun returns the last known history entry for a job
func (t *Tracker) CachedRun(jobID string) (ports.Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.history[jobID]
	return run, ok
}

// Run reconciles at the poll interval until ctx is done
func (t *Tracker) Run(ctx context.Context) {
	t.mu.Lock()
	interval := t.cfg.PollInterval
	t.mu.Unlock()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Errors are logged by Reconcile; the next tick retries
			_ = t.Reconcile(ctx)
			t.mu.Lock()
			interval = t.cfg.PollInterval
			t.mu.Unlock()
			timer.Reset(interval)
		}
	}
}

func (t *Tracker) onChange(c tabs.Change) {
	switch c.Kind {
	case tabs.ChangeStatus:
		t.onStatus(c)
	case tabs.ChangeClosed:
		t.forget(c.TabID)
	case tabs.ChangeCleared:
		t.forgetAll()
	}
}

func (t *Tracker) onStatus(c tabs.Change) {
	var lastRun *time.Time
	if c.To.IsTerminal() {
		if tab := t.store.Tab(c.TabID); tab != nil {
			lastRun = tab.LastExecutionTime
		}
	}

	t.mu.Lock()
	jobID := ""
	for job, id := range t.jobTabs {
		if id == c.TabID {
			jobID = job
		}
	}
	switch {
	case c.To == valueobjects.ExecutionRunning:
		t.cancelLocked(t.expiry, c.TabID)
		t.armSafetyLocked(c.TabID)
	case c.To.IsTerminal():
		t.cancelLocked(t.safety, c.TabID)
		t.armExpiryLocked(c.TabID, lastRun)
	case c.To == valueobjects.ExecutionIdle:
		t.cancelLocked(t.safety, c.TabID)
		t.cancelLocked(t.expiry, c.TabID)
	}
	t.mu.Unlock()

	if t.publisher != nil {
		event := events.NewExecutionStatusChanged(c.TabID, c.From, c.To, jobID, t.clock.Now())
		if err := t.publisher.Publish(context.Background(), event); err != nil {
			t.logger.Warn("Failed to publish status change", zap.Error(err))
		}
	}
}

func (t *Tracker) armSafetyLocked(tabID valueobjects.TabID) {
	t.cancelLocked(t.safety, tabID)
	t.timerGen++
	gen := t.timerGen
	timer := t.clock.AfterFunc(t.cfg.SafetyTimeout, func() { t.onSafetyTimeout(tabID, gen) })
	t.safety[tabID] = timerEntry{timer: timer, gen: gen}
}

func (t *Tracker) onSafetyTimeout(tabID valueobjects.TabID, gen uint64) {
	t.mu.Lock()
	if entry, ok := t.safety[tabID]; !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.safety, tabID)
	tracked, trackedTab := t.trackedJobID, valueobjects.TabID{}
	if tracked != "" {
		trackedTab = t.jobTabs[tracked]
	}
	if tracked != "" && (trackedTab == tabID || trackedTab.IsZero()) {
		t.trackedJobID = ""
	}
	for job, id := range t.jobTabs {
		if id == tabID {
			delete(t.jobTabs, job)
			t.finished[job] = struct{}{}
		}
	}
	t.mu.Unlock()

	t.logger.Warn("No completion signal before safety timeout; forcing tab to completed",
		zap.String("tab_id", tabID.String()),
	)
	t.store.UpdateTabExecutionStatus(tabID, valueobjects.ExecutionCompleted)
}

func (t *Tracker) armExpiryLocked(tabID valueobjects.TabID, lastRun *time.Time) {
	t.cancelLocked(t.expiry, tabID)
	delay := t.cfg.StatusTTL
	if lastRun != nil {
		delay -= t.clock.Now().Sub(*lastRun)
	}
	if delay < 0 {
		delay = 0
	}
	t.timerGen++
	gen := t.timerGen
	timer := t.clock.AfterFunc(delay, func() { t.onExpiry(tabID, gen) })
	t.expiry[tabID] = timerEntry{timer: timer, gen: gen}
}

func (t *Tracker) onExpiry(tabID valueobjects.TabID, gen uint64) {
	t.mu.Lock()
	if entry, ok := t.expiry[tabID]; !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.expiry, tabID)
	t.mu.Unlock()

	if tab := t.store.Tab(tabID); tab != nil && tab.ExecutionStatus.IsTerminal() {
		t.store.ClearTabExecutionStatus(tabID)
	}
}

func (t *Tracker) cancelLocked(timers map[valueobjects.TabID]timerEntry, tabID valueobjects.TabID) {
	if entry, ok := timers[tabID]; ok {
		entry.timer.Stop()
		delete(timers, tabID)
	}
}

func (t *Tracker) forget(tabID valueobjects.TabID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.safety, tabID)
	t.cancelLocked(t.expiry, tabID)
	for job, id := range t.jobTabs {
		if id == tabID {
			delete(t.jobTabs, job)
			if t.trackedJobID == job {
				t.trackedJobID = ""
			}
		}
	}
}

func (t *Tracker) forgetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.safety {
		t.cancelLocked(t.safety, id)
	}
	for id := range t.expiry {
		t.cancelLocked(t.expiry, id)
	}
	t.jobTabs = make(map[string]valueobjects.TabID)
	t.trackedJobID = ""
}
