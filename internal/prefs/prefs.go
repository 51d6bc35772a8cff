// Package prefs persists the user's dashboard preferences: favorite cities,
// search history, and the temperature display unit. Values are loaded once at
// startup and written back synchronously on every change.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"weatherdash/internal/models"
)

const (
	keyFavorites     = "favorites"
	keySearchHistory = "searchHistory"
	keyUnit          = "temperatureUnit"
)

// DefaultHistoryLimit caps the search history length.
const DefaultHistoryLimit = 10

// Store holds preferences in memory, backed by a sqlite key-value table.
type Store struct {
	db           *sql.DB
	logger       *zap.Logger
	historyLimit int

	mu        sync.Mutex
	favorites []string
	history   []string
	unit      models.Unit
}

// Open opens (creating if needed) the preferences database at path and loads
// all stored values. historyLimit <= 0 falls back to DefaultHistoryLimit.
func Open(ctx context.Context, path string, historyLimit int, logger *zap.Logger) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS prefs (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init prefs schema: %w", err)
	}

	s := &Store{
		db:           db,
		logger:       logger,
		historyLimit: historyLimit,
		favorites:    make([]string, 0),
		history:      make([]string, 0),
		unit:         models.UnitCelsius,
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// load reads all persisted values into memory.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM prefs`)
	if err != nil {
		return fmt.Errorf("load prefs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan pref row: %w", err)
		}
		switch key {
		case keyFavorites:
			if err := json.Unmarshal([]byte(value), &s.favorites); err != nil {
				s.logger.Warn("discarding malformed favorites", zap.Error(err))
				s.favorites = make([]string, 0)
			}
		case keySearchHistory:
			if err := json.Unmarshal([]byte(value), &s.history); err != nil {
				s.logger.Warn("discarding malformed search history", zap.Error(err))
				s.history = make([]string, 0)
			}
		case keyUnit:
			s.unit = models.ParseUnit(value)
		}
	}
	return rows.Err()
}

// put upserts one key-value pair.
func (s *Store) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// putJSON upserts a JSON-encoded list.
func (s *Store) putJSON(ctx context.Context, key string, list []string) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.put(ctx, key, string(raw))
}

// Favorites returns a copy of the favorite city list, in insertion order.
func (s *Store) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.favorites))
	copy(out, s.favorites)
	return out
}

// AddFavorite appends city if not already present. City spelling is kept
// verbatim; "paris" and "Paris" are distinct favorites.
func (s *Store) AddFavorite(ctx context.Context, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.favorites {
		if c == city {
			return nil
		}
	}
	s.favorites = append(s.favorites, city)
	return s.putJSON(ctx, keyFavorites, s.favorites)
}

// RemoveFavorite removes city from the favorites if present.
func (s *Store) RemoveFavorite(ctx context.Context, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.favorites[:0]
	for _, c := range s.favorites {
		if c != city {
			kept = append(kept, c)
		}
	}
	s.favorites = kept
	return s.putJSON(ctx, keyFavorites, s.favorites)
}

// SearchHistory returns a copy of the history, most recent first.
func (s *Store) SearchHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// RecordSearch moves city to the front of the history, deduplicating and
// trimming to the history limit.
func (s *Store) RecordSearch(ctx context.Context, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]string, 0, len(s.history)+1)
	next = append(next, city)
	for _, c := range s.history {
		if c != city {
			next = append(next, c)
		}
	}
	if len(next) > s.historyLimit {
		next = next[:s.historyLimit]
	}
	s.history = next
	return s.putJSON(ctx, keySearchHistory, s.history)
}

// RemoveSearch removes one entry from the history.
func (s *Store) RemoveSearch(ctx context.Context, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	for _, c := range s.history {
		if c != city {
			kept = append(kept, c)
		}
	}
	s.history = kept
	return s.putJSON(ctx, keySearchHistory, s.history)
}

// ClearSearchHistory empties the history.
func (s *Store) ClearSearchHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]string, 0)
	return s.putJSON(ctx, keySearchHistory, s.history)
}

// Unit returns the temperature display unit.
func (s *Store) Unit() models.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unit
}

// SetUnit stores the temperature display unit.
func (s *Store) SetUnit(ctx context.Context, unit models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unit = unit
	return s.put(ctx, keyUnit, string(unit))
}
