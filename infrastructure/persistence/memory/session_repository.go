// Package memory keeps session snapshots in process memory. It backs local
// development and tests.
package memory

import (
	"context"
	"sync"

	"crewcanvas/application/ports"
	"crewcanvas/domain/core/aggregates"
	apperrors "crewcanvas/pkg/errors"
)

// SessionRepository is an in-memory ports.SessionRepository
type SessionRepository struct {
	mu        sync.RWMutex
	snapshots map[string]aggregates.SessionSnapshot
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates an empty repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{snapshots: make(map[string]aggregates.SessionSnapshot)}
}

func (r *SessionRepository) Save(_ context.Context, snapshot aggregates.SessionSnapshot) error {
	if snapshot.SessionID == "" {
		return apperrors.NewValidationError("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.snapshots[snapshot.SessionID]; ok && prev.SavedAt.After(snapshot.SavedAt) {
		return apperrors.NewConflictError("a newer snapshot is already stored")
	}
	r.snapshots[snapshot.SessionID] = copySnapshot(snapshot)
	return nil
}

func (r *SessionRepository) Load(_ context.Context, sessionID string) (*aggregates.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("session " + sessionID)
	}
	out := copySnapshot(snap)
	return &out, nil
}

func copySnapshot(s aggregates.SessionSnapshot) aggregates.SessionSnapshot {
	out := s
	out.Tabs = make([]*aggregates.Tab, len(s.Tabs))
	for i, t := range s.Tabs {
		out.Tabs[i] = t.Clone()
	}
	return out
}
