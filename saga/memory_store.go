package saga

import (
	"context"
	"sync"
)

// MemoryStore keeps sagas in memory. It is used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	sagas   map[int64]*State // by saga id
	byOrder map[int64]int64
	events  []Event
	nextID  int64
	nextEv  int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas:   make(map[int64]*State),
		byOrder: make(map[int64]int64),
	}
}

func (s *MemoryStore) Create(ctx context.Context, state *State, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOrder[state.OrderID]; exists {
		return ErrSagaExists
	}

	s.nextID++
	state.ID = s.nextID
	s.sagas[state.ID] = state.Clone()
	s.byOrder[state.OrderID] = state.ID

	if event != nil {
		event.SagaID = state.ID
		s.appendLocked(event)
	}
	return nil
}

func (s *MemoryStore) FindByOrderID(ctx context.Context, orderID int64) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return s.sagas[id].Clone(), nil
}

func (s *MemoryStore) Apply(ctx context.Context, state *State, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sagas[state.ID]; !ok {
		return ErrSagaNotFound
	}
	s.sagas[state.ID] = state.Clone()

	if event != nil {
		s.appendLocked(event)
	}
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sagas[event.SagaID]; !ok {
		return ErrSagaNotFound
	}
	s.appendLocked(event)
	return nil
}

func (s *MemoryStore) appendLocked(event *Event) {
	s.nextEv++
	event.ID = s.nextEv

	stored := *event
	stored.EventData = append([]byte(nil), event.EventData...)
	s.events = append(s.events, stored)
}

func (s *MemoryStore) Events(ctx context.Context, sagaID int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []Event
	for _, event := range s.events {
		if event.SagaID == sagaID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *MemoryStore) FirstEvent(ctx context.Context, sagaID int64, eventType string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, event := range s.events {
		if event.SagaID == sagaID && event.EventType == eventType {
			found := event
			return &found, nil
		}
	}
	return nil, ErrEventNotFound
}

// Count returns the number of stored sagas.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sagas)
}
