// Package secrets caches API key and secret metadata from the backend and
// owns the open/closed state of the API key editor.
package secrets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"crewcanvas/application/ports"
	"crewcanvas/domain/events"
	"crewcanvas/pkg/clock"
	apperrors "crewcanvas/pkg/errors"

	"go.uber.org/zap"
)

// DefaultCacheTTL is how long fetched metadata is served without refetching
const DefaultCacheTTL = 60 * time.Second

// EditorState is the API key editor flag
type EditorState struct {
	Open    bool   `json:"open"`
	KeyName string `json:"keyName,omitempty"`
}

// Store serves API key and secret metadata. Key values pass through to the
// backend and are never kept.
type Store struct {
	backend   ports.SecretService
	publisher ports.EventPublisher
	ttl       time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	keys      []ports.APIKey
	secrets   []ports.Secret
	keysAt    time.Time
	secretsAt time.Time
	editor    EditorState
}

// NewStore creates a secret store
func NewStore(backend ports.SecretService, publisher ports.EventPublisher, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		backend:   backend,
		publisher: publisher,
		ttl:       ttl,
		clock:     clk,
		logger:    logger,
	}
}

func (s *Store) fresh(at time.Time) bool {
	return !at.IsZero() && s.clock.Now().Sub(at) < s.ttl
}

// APIKeys returns API key metadata sorted by name
func (s *Store) APIKeys(ctx context.Context) ([]ports.APIKey, error) {
	s.mu.Lock()
	if s.fresh(s.keysAt) {
		out := append([]ports.APIKey(nil), s.keys...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	keys, err := s.backend.ListAPIKeys(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "list api keys")
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })

	s.mu.Lock()
	s.keys = keys
	s.keysAt = s.clock.Now()
	s.mu.Unlock()
	return append([]ports.APIKey(nil), keys...), nil
}

// Secrets returns secret metadata sorted by name
func (s *Store) Secrets(ctx context.Context) ([]ports.Secret, error) {
	s.mu.Lock()
	if s.fresh(s.secretsAt) {
		out := append([]ports.Secret(nil), s.secrets...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	list, err := s.backend.ListSecrets(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "list secrets")
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	s.mu.Lock()
	s.secrets = list
	s.secretsAt = s.clock.Now()
	s.mu.Unlock()
	return append([]ports.Secret(nil), list...), nil
}

// SetTTL changes how long fetched metadata stays fresh
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Invalidate drops cached metadata
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysAt = time.Time{}
	s.secretsAt = time.Time{}
}

// Refresh refetches both lists regardless of age
func (s *Store) Refresh(ctx context.Context) error {
	s.Invalidate()
	if _, err := s.APIKeys(ctx); err != nil {
		return err
	}
	_, err := s.Secrets(ctx)
	return err
}

// SetAPIKey stores a key value on the backend
func (s *Store) SetAPIKey(ctx context.Context, name, value, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("api key name is required")
	}
	if value == "" {
		return apperrors.NewValidationError("api key value is required")
	}
	if err := s.backend.SetAPIKey(ctx, name, value, description); err != nil {
		return apperrors.Wrapf(err, "set api key %s", name)
	}
	s.Invalidate()
	s.logger.Info("API key updated", zap.String("name", name))
	return nil
}

// DeleteAPIKey removes a key on the backend
func (s *Store) DeleteAPIKey(ctx context.Context, name string) error {
	if err := s.backend.DeleteAPIKey(ctx, name); err != nil {
		return apperrors.Wrapf(err, "delete api key %s", name)
	}
	s.Invalidate()
	s.logger.Info("API key deleted", zap.String("name", name))
	return nil
}

// MissingKeys returns the required key names that have no value, in the
// order given
func (s *Store) MissingKeys(ctx context.Context, required []string) ([]string, error) {
	keys, err := s.APIKeys(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k.Name] = k.HasValue
	}
	missing := []string{}
	for _, name := range required {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// RequestEditor opens the API key editor, focused on keyName if given
func (s *Store) RequestEditor(ctx context.Context, keyName string) EditorState {
	s.mu.Lock()
	s.editor = EditorState{Open: true, KeyName: keyName}
	state := s.editor
	s.mu.Unlock()

	s.publish(ctx, events.NewAPIKeyEditorRequested(keyName, s.clock.Now()))
	return state
}

// CloseEditor closes the editor. Closing a closed editor publishes nothing.
func (s *Store) CloseEditor(ctx context.Context) EditorState {
	s.mu.Lock()
	wasOpen := s.editor.Open
	s.editor = EditorState{}
	s.mu.Unlock()

	if wasOpen {
		s.publish(ctx, events.NewAPIKeyEditorClosed(s.clock.Now()))
	}
	return EditorState{}
}

// EditorState returns the editor flag
func (s *Store) EditorState() EditorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor
}

func (s *Store) publish(ctx context.Context, event events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish editor event",
			zap.String("kind", string(event.GetKind())),
			zap.Error(err),
		)
	}
}
