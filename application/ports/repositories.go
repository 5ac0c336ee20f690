package ports

import (
	"context"

	"crewcanvas/domain/core/aggregates"
)

// SessionRepository persists tab store snapshots for best-effort restore
type SessionRepository interface {
	// Save stores the snapshot, replacing any previous one for its session
	Save(ctx context.Context, snapshot aggregates.SessionSnapshot) error

	// Load returns the latest snapshot for a session. A session that was
	// never saved yields a NOT_FOUND error.
	Load(ctx context.Context, sessionID string) (*aggregates.SessionSnapshot, error)
}
