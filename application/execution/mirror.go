package execution

import (
	"sync"

	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/graph"
	"crewcanvas/domain/core/valueobjects"
)

// Mirror keeps a copy of the active tab's graph for the execution layer.
// The tab store stays the owner; the mirror refreshes on every change that
// can affect the active tab.
type Mirror struct {
	store *tabs.Store

	mu    sync.RWMutex
	tabID valueobjects.TabID
	graph graph.Graph

	unsubscribe func()
}

// NewMirror creates a mirror synced with the store's current active tab
func NewMirror(store *tabs.Store) *Mirror {
	m := &Mirror{store: store}
	m.refresh()
	m.unsubscribe = store.Subscribe(m.onChange)
	return m
}

// Close stops following the store
func (m *Mirror) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Mirror) onChange(c tabs.Change) {
	switch c.Kind {
	case tabs.ChangeGraph:
		m.mu.RLock()
		tracked := m.tabID == c.TabID
		m.mu.RUnlock()
		if tracked {
			m.refresh()
		}
	case tabs.ChangeActivated, tabs.ChangeClosed, tabs.ChangeCleared:
		m.refresh()
	}
}

func (m *Mirror) refresh() {
	active := m.store.ActiveTab()

	m.mu.Lock()
	defer m.mu.Unlock()
	if active == nil {
		m.tabID = valueobjects.TabID{}
		m.graph = graph.Graph{}
		return
	}
	m.tabID = active.ID
	m.graph = active.Graph()
}

// TabID returns the tab being mirrored
func (m *Mirror) TabID() valueobjects.TabID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tabID
}

// Graph returns a copy of the mirrored graph
func (m *Mirror) Graph() graph.Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.Clone()
}
