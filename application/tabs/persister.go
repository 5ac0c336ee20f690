package tabs

import (
	"context"
	"sync"
	"time"

	"crewcanvas/application/ports"
	"crewcanvas/pkg/clock"
	apperrors "crewcanvas/pkg/errors"

	"go.uber.org/zap"
)

// DefaultSaveDebounce is how long the persister waits for changes to
// settle before writing a snapshot
const DefaultSaveDebounce = 500 * time.Millisecond

const saveTimeout = 5 * time.Second

// Persister writes store snapshots to a SessionRepository after changes
// settle. Persistence is best effort: failures are logged and the store
// keeps working.
type Persister struct {
	store     *Store
	repo      ports.SessionRepository
	sessionID string
	debounce  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu          sync.Mutex
	timer       clock.Timer
	unsubscribe func()
}

// NewPersister creates a persister for one session
func NewPersister(store *Store, repo ports.SessionRepository, sessionID string, debounce time.Duration, clk clock.Clock, logger *zap.Logger) *Persister {
	if debounce <= 0 {
		debounce = DefaultSaveDebounce
	}
	return &Persister{
		store:     store,
		repo:      repo,
		sessionID: sessionID,
		debounce:  debounce,
		clock:     clk,
		logger:    logger.With(zap.String("session_id", sessionID)),
	}
}

// Restore loads the last snapshot into the store. It reports whether
// anything was restored.
func (p *Persister) Restore(ctx context.Context) bool {
	snap, err := p.repo.Load(ctx, p.sessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			p.logger.Info("No saved session to restore")
		} else {
			p.logger.Warn("Failed to load saved session", zap.Error(err))
		}
		return false
	}
	return p.store.Restore(*snap)
}

// Start begins saving after every change
func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		return
	}
	p.unsubscribe = p.store.Subscribe(func(Change) { p.schedule() })
}

// Stop stops watching the store and drops any pending save
func (p *Persister) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Persister) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := p.Flush(ctx); err != nil {
			p.logger.Warn("Failed to save session", zap.Error(err))
		}
	})
}

// Flush writes the current snapshot now
func (p *Persister) Flush(ctx context.Context) error {
	snap := p.store.Snapshot()
	snap.SessionID = p.sessionID
	if err := p.repo.Save(ctx, snap); err != nil {
		return apperrors.Wrap(err, "save session")
	}
	p.logger.Debug("Session saved", zap.Int("tabs", len(snap.Tabs)))
	return nil
}
