// Package killswitch implements the operator-toggled runtime kill
// switch. The file at the configured path is the source of truth;
// absence means sending is allowed.
package killswitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the persisted kill-switch record
type State struct {
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason"`
	SetBy   string    `json:"set_by"`
	SetAt   time.Time `json:"set_at"`
}

// Switch reads and writes the kill-switch file. Reads are cached for
// a short TTL so the dispatcher does not hit disk on every job.
type Switch struct {
	mu        sync.Mutex
	path      string
	cacheTTL  time.Duration
	cached    *State
	cachedAt  time.Time
}

// New creates a switch over the given file path with a 2s read cache
func New(path string) *Switch {
	return &Switch{path: path, cacheTTL: 2 * time.Second}
}

// NewWithTTL creates a switch with an explicit cache TTL; zero
// disables caching.
func NewWithTTL(path string, ttl time.Duration) *Switch {
	return &Switch{path: path, cacheTTL: ttl}
}

// Get returns the current state, reading through the cache. A missing
// file is a disabled switch.
func (s *Switch) Get() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cacheTTL > 0 && time.Since(s.cachedAt) < s.cacheTTL {
		copied := *s.cached
		return &copied, nil
	}

	state, err := s.read()
	if err != nil {
		return nil, err
	}

	s.cached = state
	s.cachedAt = time.Now()
	copied := *state
	return &copied, nil
}

func (s *Switch) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Enabled: false}, nil
		}
		return nil, fmt.Errorf("failed to read kill-switch file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// An unreadable kill-switch file fails closed: treat as enabled
		// so a corrupt write cannot silently re-open sending.
		return &State{
			Enabled: true,
			Reason:  "kill-switch file corrupt",
			SetBy:   "system",
			SetAt:   time.Now().UTC(),
		}, nil
	}

	return &state, nil
}

// IsEnabled reports whether the kill switch currently blocks sending
func (s *Switch) IsEnabled() bool {
	state, err := s.Get()
	if err != nil {
		// Fail closed on read errors
		return true
	}
	return state.Enabled
}

// SetEnabled activates the kill switch with an audit trail
func (s *Switch) SetEnabled(reason, setBy string) error {
	return s.write(&State{
		Enabled: true,
		Reason:  reason,
		SetBy:   setBy,
		SetAt:   time.Now().UTC(),
	})
}

// SetDisabled deactivates the kill switch with an audit trail
func (s *Switch) SetDisabled(reason, setBy string) error {
	return s.write(&State{
		Enabled: false,
		Reason:  reason,
		SetBy:   setBy,
		SetAt:   time.Now().UTC(),
	})
}

// write replaces the file atomically via write-temp + rename
func (s *Switch) write(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create kill-switch directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal kill-switch state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kill_switch-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write kill-switch state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync kill-switch state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace kill-switch file: %w", err)
	}

	s.cached = state
	s.cachedAt = time.Now()

	return nil
}

// Path returns the backing file path
func (s *Switch) Path() string {
	return s.path
}
