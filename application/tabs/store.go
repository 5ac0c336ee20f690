// Package tabs holds the editing sessions of the designer. The store is the
// single owner of every tab's graph and state; all reads hand out copies.
package tabs

import (
	"strings"
	"sync"

	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/pkg/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChangeKind classifies a store mutation
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeClosed    ChangeKind = "closed"
	ChangeUpdated   ChangeKind = "updated"
	ChangeGraph     ChangeKind = "graph"
	ChangeStatus    ChangeKind = "status"
	ChangeActivated ChangeKind = "activated"
	ChangeCleared   ChangeKind = "cleared"
)

// Change describes one mutation. From and To are set for status changes.
type Change struct {
	Kind  ChangeKind
	TabID valueobjects.TabID
	From  valueobjects.ExecutionStatus
	To    valueobjects.ExecutionStatus
}

type listener struct {
	id int
	fn func(Change)
}

// Store is the in-memory tab store. Unknown tab ids make every operation a
// no-op; nothing here returns an error.
type Store struct {
	mu       sync.RWMutex
	tabs     []*aggregates.Tab
	activeID valueobjects.TabID

	listenerMu sync.RWMutex
	listeners  []listener
	nextID     int

	clock  clock.Clock
	logger *zap.Logger
}

// NewStore creates an empty store
func NewStore(clk clock.Clock, logger *zap.Logger) *Store {
	return &Store{
		clock:  clk,
		logger: logger,
	}
}

// Subscribe registers fn for every change and returns a function removing
// it. Listeners run synchronously after the store lock is released, in
// registration order, and may call back into the store.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.listenerMu.RLock()
	current := append([]listener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	for _, c := range changes {
		for _, l := range current {
			l.fn(c)
		}
	}
}

func (s *Store) indexOf(id valueobjects.TabID) int {
	for i, t := range s.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id valueobjects.TabID) *aggregates.Tab {
	if i := s.indexOf(id); i >= 0 {
		return s.tabs[i]
	}
	return nil
}

// CreateTab adds an empty tab and activates it. An empty name picks a
// default: "Main Workflow" for the first tab, "Workflow <n>" after that.
func (s *Store) CreateTab(name string) *aggregates.Tab {
	s.mu.Lock()
	tab := s.createLocked(name)
	out := tab.Clone()
	s.mu.Unlock()

	s.logger.Debug("Tab created", zap.String("tab_id", out.ID.String()), zap.String("name", out.Name))
	s.notify(
		Change{Kind: ChangeCreated, TabID: out.ID},
		Change{Kind: ChangeActivated, TabID: out.ID},
	)
	return out
}

func (s *Store) createLocked(name string) *aggregates.Tab {
	name = strings.TrimSpace(name)
	if name == "" {
		name = aggregates.DefaultTabNameFor(len(s.tabs))
	}
	tab := aggregates.NewTab(name, s.clock.Now())
	s.tabs = append(s.tabs, tab)
	s.activeID = tab.ID
	return tab
}

// EnsureTab creates a default tab when the store is empty and returns the
// active tab.
func (s *Store) EnsureTab() *aggregates.Tab {
	s.mu.RLock()
	empty := len(s.tabs) == 0
	s.mu.RUnlock()
	if empty {
		return s.CreateTab("")
	}
	return s.ActiveTab()
}

// CloseTab removes a tab whatever its dirty state; confirming unsaved
// changes is the caller's job. If the closed tab was active, the tab now at
// its index (or the one before it) becomes active. Closing the last tab
// leaves a fresh default tab behind.
func (s *Store) CloseTab(id valueobjects.TabID) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)
	changes := []Change{{Kind: ChangeClosed, TabID: id}}

	switch {
	case len(s.tabs) == 0:
		tab := s.createLocked("")
		changes = append(changes,
			Change{Kind: ChangeCreated, TabID: tab.ID},
			Change{Kind: ChangeActivated, TabID: tab.ID},
		)
	case s.activeID == id:
		next := idx
		if next >= len(s.tabs) {
			next = len(s.tabs) - 1
		}
		s.activeID = s.tabs[next].ID
		changes = append(changes, Change{Kind: ChangeActivated, TabID: s.activeID})
	}
	s.mu.Unlock()

	s.logger.Debug("Tab closed", zap.String("tab_id", id.String()))
	s.notify(changes...)
	return true
}

// DuplicateTab copies a tab's graph into a new, clean, unsaved, idle tab
// placed right after the source and activated.
func (s *Store) DuplicateTab(id valueobjects.TabID) *aggregates.Tab {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	src := s.tabs[idx]
	dup := aggregates.NewTab(src.Name+aggregates.DuplicateTabSuffix, s.clock.Now())
	dup.Nodes = entities.CloneNodes(src.Nodes)
	dup.Edges = entities.CloneEdges(src.Edges)

	s.tabs = append(s.tabs, nil)
	copy(s.tabs[idx+2:], s.tabs[idx+1:])
	s.tabs[idx+1] = dup
	s.activeID = dup.ID
	out := dup.Clone()
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeCreated, TabID: out.ID},
		Change{Kind: ChangeActivated, TabID: out.ID},
	)
	return out
}

// SetActiveTab makes id the current tab. Graph data is untouched.
func (s *Store) SetActiveTab(id valueobjects.TabID) bool {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return false
	}
	changed := s.activeID != id
	s.activeID = id
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeActivated, TabID: id})
	}
	return true
}

// mutate applies fn to the tab under the write lock. fn returns the
// changes to announce; returning none means nothing happened.
func (s *Store) mutate(id valueobjects.TabID, fn func(t *aggregates.Tab) []Change) bool {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return false
	}
	changes := fn(tab)
	s.mu.Unlock()

	s.notify(changes...)
	return len(changes) > 0
}

// UpdateTabName renames a tab. The name is metadata: the tab stays clean.
func (s *Store) UpdateTabName(id valueobjects.TabID, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.Name = name
		return []Change{{Kind: ChangeUpdated, TabID: id}}
	})
}

// UpdateTabNodes replaces the nodes and marks the tab dirty
func (s *Store) UpdateTabNodes(id valueobjects.TabID, nodes []entities.Node) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.Nodes = entities.CloneNodes(nodes)
		t.IsDirty = true
		return []Change{{Kind: ChangeGraph, TabID: id}}
	})
}

// UpdateTabEdges replaces the edges and marks the tab dirty
func (s *Store) UpdateTabEdges(id valueobjects.TabID, edges []entities.Edge) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.Edges = entities.CloneEdges(edges)
		t.IsDirty = true
		return []Change{{Kind: ChangeGraph, TabID: id}}
	})
}

// UpdateTabGraph replaces nodes and edges together and marks the tab dirty
func (s *Store) UpdateTabGraph(id valueobjects.TabID, nodes []entities.Node, edges []entities.Edge) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.Nodes = entities.CloneNodes(nodes)
		t.Edges = entities.CloneEdges(edges)
		t.IsDirty = true
		return []Change{{Kind: ChangeGraph, TabID: id}}
	})
}

// LoadTabGraph replaces the graph with one just loaded from the backend.
// The tab ends up clean.
func (s *Store) LoadTabGraph(id valueobjects.TabID, nodes []entities.Node, edges []entities.Edge) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.Nodes = entities.CloneNodes(nodes)
		t.Edges = entities.CloneEdges(edges)
		t.IsDirty = false
		return []Change{{Kind: ChangeGraph, TabID: id}}
	})
}

// UpdateTabCrewInfo records the backend crew a tab was saved as. Callers
// pair it with MarkTabClean once persistence is confirmed.
func (s *Store) UpdateTabCrewInfo(id valueobjects.TabID, crewID, crewName string) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.SavedCrewID = crewID
		t.SavedCrewName = crewName
		return []Change{{Kind: ChangeUpdated, TabID: id}}
	})
}

// MarkTabClean clears the dirty flag
func (s *Store) MarkTabClean(id valueobjects.TabID) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.IsDirty = false
		return []Change{{Kind: ChangeUpdated, TabID: id}}
	})
}

// UpdateTabExecutionStatus moves a tab to status if the execution state
// machine allows it; other requests are ignored and return false. Leaving
// running stamps the last execution time.
func (s *Store) UpdateTabExecutionStatus(id valueobjects.TabID, status valueobjects.ExecutionStatus) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		from := t.ExecutionStatus
		if !valueobjects.CanTransition(from, status) {
			if from != status {
				s.logger.Debug("Ignoring execution status transition",
					zap.String("tab_id", id.String()),
					zap.String("from", string(from)),
					zap.String("to", string(status)),
				)
			}
			return nil
		}
		t.ExecutionStatus = status
		if from == valueobjects.ExecutionRunning {
			now := s.clock.Now()
			t.LastExecutionTime = &now
		}
		return []Change{{Kind: ChangeStatus, TabID: id, From: from, To: status}}
	})
}

// ClearTabExecutionStatus resets a tab to idle
func (s *Store) ClearTabExecutionStatus(id valueobjects.TabID) bool {
	return s.UpdateTabExecutionStatus(id, valueobjects.ExecutionIdle)
}

// ClearAllTabs removes every tab. Unlike CloseTab it leaves the store
// empty; callers recreate a default tab (EnsureTab) when they are ready.
func (s *Store) ClearAllTabs() {
	s.mu.Lock()
	s.tabs = nil
	s.activeID = valueobjects.TabID{}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCleared})
}

// SetChatSessionID links a tab to a backend chat session
func (s *Store) SetChatSessionID(id valueobjects.TabID, sessionID string) bool {
	return s.mutate(id, func(t *aggregates.Tab) []Change {
		t.ChatSessionID = sessionID
		return []Change{{Kind: ChangeUpdated, TabID: id}}
	})
}

// EnsureChatSessionID returns the tab's chat session id, creating one on
// first use
func (s *Store) EnsureChatSessionID(id valueobjects.TabID) (string, bool) {
	s.mu.Lock()
	tab := s.find(id)
	if tab == nil {
		s.mu.Unlock()
		return "", false
	}
	if tab.ChatSessionID != "" {
		sessionID := tab.ChatSessionID
		s.mu.Unlock()
		return sessionID, true
	}
	tab.ChatSessionID = uuid.NewString()
	sessionID := tab.ChatSessionID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, TabID: id})
	return sessionID, true
}

// Tab returns a copy of the tab, or nil
func (s *Store) Tab(id valueobjects.TabID) *aggregates.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id).Clone()
}

// ActiveTab returns a copy of the active tab, or nil when the store is empty
func (s *Store) ActiveTab() *aggregates.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.activeID).Clone()
}

// ActiveTabID returns the active tab id; zero when the store is empty
func (s *Store) ActiveTabID() valueobjects.TabID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Tabs returns copies of all tabs in display order
func (s *Store) Tabs() []*aggregates.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*aggregates.Tab, len(s.tabs))
	for i, t := range s.tabs {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of tabs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}

// Snapshot captures the store for persistence
func (s *Store) Snapshot() aggregates.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := aggregates.SessionSnapshot{
		ActiveTabID: s.activeID.String(),
		Tabs:        make([]*aggregates.Tab, len(s.tabs)),
		SavedAt:     s.clock.Now(),
	}
	for i, t := range s.tabs {
		snap.Tabs[i] = t.Clone()
	}
	return snap
}

// Restore replaces the store content with a snapshot. Execution state is
// not restored: no job is tracked for a restored tab, so every tab comes
// back idle. An empty snapshot is ignored.
func (s *Store) Restore(snap aggregates.SessionSnapshot) bool {
	if len(snap.Tabs) == 0 {
		return false
	}
	restored := make([]*aggregates.Tab, 0, len(snap.Tabs))
	seen := map[valueobjects.TabID]bool{}
	for _, t := range snap.Tabs {
		if t == nil || t.ID.IsZero() || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tab := t.Clone()
		tab.ExecutionStatus = valueobjects.ExecutionIdle
		if tab.Nodes == nil {
			tab.Nodes = []entities.Node{}
		}
		if tab.Edges == nil {
			tab.Edges = []entities.Edge{}
		}
		restored = append(restored, tab)
	}
	if len(restored) == 0 {
		return false
	}

	s.mu.Lock()
	s.tabs = restored
	s.activeID = restored[0].ID
	for _, t := range restored {
		if t.ID.String() == snap.ActiveTabID {
			s.activeID = t.ID
		}
	}
	active := s.activeID
	s.mu.Unlock()

	s.logger.Info("Tabs restored", zap.Int("tabs", len(restored)))
	changes := []Change{{Kind: ChangeCleared}}
	for _, t := range restored {
		changes = append(changes, Change{Kind: ChangeCreated, TabID: t.ID})
	}
	changes = append(changes, Change{Kind: ChangeActivated, TabID: active})
	s.notify(changes...)
	return true
}
