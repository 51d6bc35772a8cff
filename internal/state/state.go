// Package state holds the shared weather state consumed by UI subscribers.
// It is mutated only through the coordinator's lifecycle events, so identical
// event sequences always produce identical snapshots.
package state

import (
	"sync"

	"weatherdash/internal/coordinator"
	"weatherdash/internal/models"
)

// Status is the lifecycle state of one (kind, city) key. The store keeps a
// per-key status map and derives the global loading flag from it, rather than
// conflating all pending requests into one boolean.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Snapshot is a deep copy of the store's state at one instant. Mutating a
// snapshot never affects the store or other subscribers.
type Snapshot struct {
	CurrentByCity   map[string]models.CurrentWeather `json:"currentWeather"`
	ForecastsByCity map[string]models.ForecastBundle `json:"forecasts"`
	SearchResults   []string                         `json:"searchResults"`
	Statuses        map[string]Status                `json:"statuses"`
	Loading         bool                             `json:"loading"`
	Error           string                           `json:"error,omitempty"`
}

// Listener observes state transitions. Invoked with a fresh snapshot after
// every applied event, outside the store's lock.
type Listener func(Snapshot)

// Store is the shared state container. It implements coordinator.EventSink.
type Store struct {
	mu        sync.Mutex
	current   map[string]models.CurrentWeather
	forecasts map[string]models.ForecastBundle
	search    []string
	statuses  map[coordinator.Key]Status
	lastErr   string

	listenerSeq int
	listeners   map[int]Listener
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		current:   make(map[string]models.CurrentWeather),
		forecasts: make(map[string]models.ForecastBundle),
		search:    make([]string, 0),
		statuses:  make(map[coordinator.Key]Status),
		listeners: make(map[int]Listener),
	}
}

// Pending marks the key in flight and clears the last error.
func (s *Store) Pending(key coordinator.Key) {
	s.mu.Lock()
	s.statuses[key] = StatusPending
	s.lastErr = ""
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Fulfilled records the payload for the event's city only; other cities'
// entries are untouched.
func (s *Store) Fulfilled(key coordinator.Key, payload any) {
	s.mu.Lock()
	s.statuses[key] = StatusFulfilled
	switch key.Kind {
	case coordinator.KindCurrent:
		if data, ok := payload.(models.CurrentWeather); ok {
			s.current[key.City] = data
		}
	case coordinator.KindForecast:
		if bundle, ok := payload.(models.ForecastBundle); ok {
			s.forecasts[key.City] = bundle
		}
	case coordinator.KindSearch:
		if names, ok := payload.([]string); ok {
			s.search = names
		}
	}
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Rejected records the failure message. Previously stored per-city data is
// deliberately left in place: stale-but-present beats a blanked UI.
func (s *Store) Rejected(key coordinator.Key, message string) {
	s.mu.Lock()
	s.statuses[key] = StatusRejected
	s.lastErr = message
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Cancelled resets a still-pending key to idle. No error is recorded; a
// cancellation is not a failure the user should see.
func (s *Store) Cancelled(key coordinator.Key) {
	s.mu.Lock()
	if s.statuses[key] != StatusPending {
		s.mu.Unlock()
		return
	}
	delete(s.statuses, key)
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a listener and returns its unsubscribe function.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	s.listenerSeq++
	id := s.listenerSeq
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// snapshotLocked builds a deep copy. Caller holds s.mu.
func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		CurrentByCity:   make(map[string]models.CurrentWeather, len(s.current)),
		ForecastsByCity: make(map[string]models.ForecastBundle, len(s.forecasts)),
		SearchResults:   make([]string, len(s.search)),
		Statuses:        make(map[string]Status, len(s.statuses)),
		Error:           s.lastErr,
	}
	for city, data := range s.current {
		snap.CurrentByCity[city] = data
	}
	for city, bundle := range s.forecasts {
		copied := models.ForecastBundle{
			Daily:  make([]models.DailyForecast, len(bundle.Daily)),
			Hourly: make([]models.HourlyForecast, len(bundle.Hourly)),
		}
		copy(copied.Daily, bundle.Daily)
		copy(copied.Hourly, bundle.Hourly)
		snap.ForecastsByCity[city] = copied
	}
	copy(snap.SearchResults, s.search)
	for key, status := range s.statuses {
		snap.Statuses[key.String()] = status
		if status == StatusPending {
			snap.Loading = true
		}
	}
	return snap
}

// changedLocked captures the post-transition snapshot and the listener set.
// Caller holds s.mu and must release it before notifying.
func (s *Store) changedLocked() (Snapshot, []Listener) {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	return s.snapshotLocked(), listeners
}

// notify invokes listeners outside the store lock.
func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}
