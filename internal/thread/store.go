// Package thread owns the in-memory state of an open case thread. All
// mutation goes through Dispatch, which applies one event at a time with
// the pure Reduce function, so the comment list behaves as if it had a
// single owner even when sends resolve on other goroutines.
package thread

import (
	"log/slog"
	"sync"

	"github.com/user/casedesk/internal/types"
)

// Listener is called after every applied event with the resulting state.
// Deliveries happen in the order events were applied, one at a time. A
// listener runs outside the store lock and may read the store, but it must
// not call Dispatch or block for long.
type Listener func(ev Event, s State)

type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	applied   uint64

	delivery  sync.Mutex
	turn      *sync.Cond
	delivered uint64
}

func NewStore() *Store {
	s := &Store{
		state:     State{InFlight: map[types.CommentID]bool{}},
		listeners: make(map[int]Listener),
	}
	s.turn = sync.NewCond(&s.delivery)
	return s
}

// Dispatch applies ev. On error the state is left unchanged.
func (s *Store) Dispatch(ev Event) error {
	s.mu.Lock()
	next, err := Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		slog.Debug("thread event rejected", "event", ev.Name(), "error", err)
		return err
	}
	s.state = next
	seq := s.applied
	s.applied++
	snapshot := next.Clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	slog.Debug("thread event applied", "event", ev.Name(), "seq", seq, "in_flight", len(snapshot.InFlight))
	s.deliver(seq, ev, snapshot, listeners)
	return nil
}

// deliver waits for every earlier event to reach the listeners, then
// hands ev over.
func (s *Store) deliver(seq uint64, ev Event, snapshot State, listeners []Listener) {
	s.delivery.Lock()
	for s.delivered != seq {
		s.turn.Wait()
	}
	s.delivery.Unlock()

	for _, l := range listeners {
		l(ev, snapshot)
	}

	s.delivery.Lock()
	s.delivered++
	s.turn.Broadcast()
	s.delivery.Unlock()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Case returns a copy of the loaded case, or nil.
func (s *Store) Case() *types.Case {
	return s.State().Case
}

// Comments returns a copy of the current comment list.
func (s *Store) Comments() []types.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Case == nil {
		return nil
	}
	return types.CloneComments(s.state.Case.Comments)
}

// InFlight returns how many sends have not resolved yet.
func (s *Store) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.InFlight)
}
