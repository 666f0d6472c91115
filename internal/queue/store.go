package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store persists send jobs as an append-only NDJSON file of full job
// snapshots. The in-memory map holds the latest snapshot per job_id;
// reloading the file reconstructs exactly that map.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	jobs map[string]*SendJob
}

// Open loads the queue file (creating it if absent) and keeps it open
// for appends.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	s := &Store{
		path: path,
		jobs: make(map[string]*SendJob),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue file: %w", err)
	}
	s.file = file

	return s, nil
}

// load replays all snapshots, keeping the last valid one per job_id.
// Malformed lines (including a torn tail) are skipped.
func (s *Store) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var job SendJob
		if err := json.Unmarshal(line, &job); err != nil || job.JobID == "" {
			continue
		}
		s.jobs[job.JobID] = &job
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan queue file: %w", err)
	}

	return nil
}

// Save appends a fresh snapshot of the job and updates the in-memory
// map. Every mutation goes through here.
func (s *Store) Save(job *SendJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(job)
}

func (s *Store) saveLocked(job *SendJob) error {
	job.LastUpdatedAt = time.Now().UTC()

	line, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job snapshot: %w", err)
	}

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append job snapshot: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync queue file: %w", err)
	}

	snapshot := *job
	s.jobs[job.JobID] = &snapshot

	return nil
}

// Get returns a copy of the latest snapshot for the job, or nil if the
// job is unknown.
func (s *Store) Get(jobID string) *SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// FindNextReady returns the oldest job (by created_at) that is queued
// with next_attempt_at due, or nil when nothing is ready.
func (s *Store) FindNextReady(now time.Time) *SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *SendJob
	for _, job := range s.jobs {
		if job.Status != StatusQueued || job.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || job.CreatedAt.Before(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

// FindStale returns in_progress jobs whose lease started at least
// staleAfter ago, oldest first.
func (s *Store) FindStale(now time.Time, staleAfter time.Duration) []*SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*SendJob
	for _, job := range s.jobs {
		if job.Status != StatusInProgress || job.InProgressStartedAt == nil {
			continue
		}
		if now.Sub(*job.InProgressStartedAt) >= staleAfter {
			copied := *job
			stale = append(stale, &copied)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].InProgressStartedAt.Before(*stale[j].InProgressStartedAt)
	})

	return stale
}

// FindByDraftID returns the latest snapshot for the job bound to the
// draft, or nil. Used to prevent double-enqueueing a draft.
func (s *Store) FindByDraftID(draftID string) *SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.DraftID == draftID {
			copied := *job
			return &copied
		}
	}
	return nil
}

// All returns copies of the latest snapshot of every job
func (s *Store) All() []*SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*SendJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats summarises the queue for operators and the daily rate limit
type Stats struct {
	ByStatus  map[JobStatus]int `json:"by_status"`
	Total     int               `json:"total"`
	SentToday int               `json:"sent_today"`
}

// GetStats counts jobs per status and the number of successful sends
// in the current UTC calendar day.
func (s *Store) GetStats(now time.Time) *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{ByStatus: make(map[JobStatus]int)}
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)

	for _, job := range s.jobs {
		stats.ByStatus[job.Status]++
		stats.Total++
		if job.Status == StatusSent && job.SentAt != nil && !job.SentAt.Before(dayStart) {
			stats.SentToday++
		}
	}

	return stats
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
