package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is an append-only NDJSON ledger of events with an in-memory
// idempotency index over (tracking_id, event_type) for the detection
// event types.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	events []Event
	seen   map[string]bool
}

// Open loads an existing ledger file (creating it if absent) and keeps
// it open for appends. A torn tail line from a crashed writer is
// skipped during load.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	s := &Store{
		path: path,
		seen: make(map[string]bool),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	s.file = file

	return s, nil
}

// load scans the ledger file line by line, ignoring lines that do not
// parse as events.
func (s *Store) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			// Torn or corrupt line, skip it
			continue
		}
		s.index(&event)
		s.events = append(s.events, event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan ledger file: %w", err)
	}

	return nil
}

func (s *Store) index(event *Event) {
	if isIdempotent(event.EventType) {
		s.seen[indexKey(event.TrackingID, event.EventType)] = true
	}
}

func indexKey(trackingID string, eventType EventType) string {
	return trackingID + "\x00" + string(eventType)
}

// Append writes one event as a single NDJSON line and flushes it to
// disk before updating the in-memory view.
func (s *Store) Append(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}

	s.index(event)
	s.events = append(s.events, *event)

	return nil
}

// HasEvent reports whether an idempotent event of the given type is
// already recorded for the tracking ID. Only idempotent event types
// are indexed; other types always return false.
func (s *Store) HasEvent(trackingID string, eventType EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[indexKey(trackingID, eventType)]
}

// EventsSince returns all events with a timestamp at or after the
// given instant, in append order.
func (s *Store) EventsSince(since time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, event := range s.events {
		if !event.Timestamp.Before(since) {
			out = append(out, event)
		}
	}
	return out
}

// AllEvents returns a copy of every event in append order
func (s *Store) AllEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of loaded events
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
