package state

import (
	"fmt"
	"sort"
)

// #region state
// State is the aggregate of every sampled item. It brackets each proposal:
// Store opens the items an operator may touch, then exactly one of Accept or
// Restore closes the bracket.
type State struct {
	items     []Stateful
	index     map[string]int
	restorers []Restorer
	open      []Stateful
}

// New creates an empty state.
func New() *State {
	return &State{index: make(map[string]int)}
}

// Add registers items. Duplicate IDs are a configuration fault.
func (s *State) Add(items ...Stateful) error {
	for _, it := range items {
		if _, dup := s.index[it.ID()]; dup {
			return fmt.Errorf("state: duplicate item %q", it.ID())
		}
		s.index[it.ID()] = len(s.items)
		s.items = append(s.items, it)
	}
	return nil
}

// Attach registers a restorer (e.g. a calculation graph) that must be stored
// and restored together with the items.
func (s *State) Attach(r Restorer) {
	s.restorers = append(s.restorers, r)
}

// Get looks up an item by ID.
func (s *State) Get(id string) (Stateful, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[i], true
}

// Node looks up a parameter node by ID.
func (s *State) Node(id string) (*Node, bool) {
	it, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	n, ok := it.(*Node)
	return n, ok
}

// Items returns all items in registration order.
func (s *State) Items() []Stateful {
	return append([]Stateful(nil), s.items...)
}

// #endregion state

// #region bracket
// Store checkpoints the given items and opens them for editing. With no
// arguments every item is opened. A bracket that is still open is restored
// first so no item is left stored but not current.
func (s *State) Store(items ...Stateful) {
	if len(s.open) > 0 {
		s.Restore()
	}
	if len(items) == 0 {
		items = s.items
	}
	for _, it := range items {
		it.Store()
	}
	s.open = append(s.open[:0], items...)
	for _, r := range s.restorers {
		r.Store()
	}
}

// Accept closes the bracket keeping current values.
func (s *State) Accept() {
	for _, it := range s.open {
		it.Accept()
	}
	s.open = s.open[:0]
}

// Restore reverts every opened item and every restorer to the checkpoint.
func (s *State) Restore() {
	for _, it := range s.open {
		it.Restore()
	}
	s.open = s.open[:0]
	for _, r := range s.restorers {
		r.Restore()
	}
}

// InProposal reports whether a bracket is open.
func (s *State) InProposal() bool {
	return len(s.open) > 0
}

// #endregion bracket

// #region snapshot
// Snapshot copies every item's values, keyed by ID.
func (s *State) Snapshot() map[string][]float64 {
	out := make(map[string][]float64, len(s.items))
	for _, it := range s.items {
		out[it.ID()] = it.Snapshot()
	}
	return out
}

// Load replaces values from a snapshot. Every item must be present.
func (s *State) Load(snap map[string][]float64) error {
	if s.InProposal() {
		return fmt.Errorf("state: load during an open proposal")
	}
	for _, it := range s.items {
		vals, ok := snap[it.ID()]
		if !ok {
			return fmt.Errorf("state: snapshot missing %q", it.ID())
		}
		if err := it.Load(vals); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the sorted item IDs.
func (s *State) IDs() []string {
	ids := make([]string, 0, len(s.items))
	for _, it := range s.items {
		ids = append(ids, it.ID())
	}
	sort.Strings(ids)
	return ids
}

// #endregion snapshot
