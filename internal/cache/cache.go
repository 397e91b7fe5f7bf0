package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kjstillabower/weather-snapshot-service/internal/models"
)

// Store holds the single process-wide snapshot of the last fetch outcome.
// One writer (the refresher) and any number of readers (HTTP handlers).
// The three fields are always replaced together under the write lock.
type Store struct {
	mu        sync.RWMutex
	result    json.RawMessage
	timestamp *time.Time
	errMsg    *string
}

// NewStore creates an empty Store. All fields are absent until the first Record.
func NewStore() *Store {
	return &Store{}
}

// Record applies the outcome of one refresh cycle.
// On success the result is replaced and the error cleared; on failure the error is set
// and the previous result is kept. The timestamp is updated in both cases.
func (s *Store) Record(result json.RawMessage, fetchErr error, at time.Time) {
	ts := at.UTC()
	var msg *string
	if fetchErr != nil {
		m := fetchErr.Error()
		msg = &m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fetchErr == nil {
		s.result = append(json.RawMessage(nil), result...)
	}
	s.timestamp = &ts
	s.errMsg = msg
}

// Snapshot returns a copy of the current state that is safe to use after the lock is released.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out models.Snapshot
	if s.result != nil {
		out.Result = append(json.RawMessage(nil), s.result...)
	}
	if s.timestamp != nil {
		ts := *s.timestamp
		out.Timestamp = &ts
	}
	if s.errMsg != nil {
		m := *s.errMsg
		out.Error = &m
	}
	return out
}
