package workers

import (
	"path/filepath"
	"testing"
	"time"

	"outreach-control/internal/queue"
	"outreach-control/internal/retry"
)

func newReaperEnv(t *testing.T, cfg ReaperConfig) (*Reaper, *queue.Store) {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "send_queue.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewReaper(cfg, store, retry.DefaultPolicy(), testLogger()), store
}

func saveLeased(t *testing.T, store *queue.Store, draftID string, leaseAge time.Duration, attempts int) *queue.SendJob {
	t.Helper()
	job := queue.NewSendJob(draftID, "trk-"+draftID, "example.com", "aaaa0000")
	job.Status = queue.StatusInProgress
	job.Attempts = attempts
	started := time.Now().UTC().Add(-leaseAge)
	job.InProgressStartedAt = &started
	if err := store.Save(job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestReapRequeuesStaleLease(t *testing.T) {
	reaper, store := newReaperEnv(t, ReaperConfig{StaleMinutes: 30})
	job := saveLeased(t, store, "draft-1", 45*time.Minute, 2)

	result, err := reaper.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if result.Requeued != 1 || result.DeadLetters != 0 {
		t.Errorf("result = %+v, want one requeue", result)
	}

	got := store.Get(job.JobID)
	if got.Status != queue.StatusQueued {
		t.Errorf("Status = %s, want queued", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, the reap must count as an attempt", got.Attempts)
	}
	if got.InProgressStartedAt != nil {
		t.Error("lease not cleared")
	}
	if !got.NextAttemptAt.After(time.Now().UTC()) {
		t.Error("no backoff applied to the requeue")
	}
}

func TestReapLeavesFreshLeases(t *testing.T) {
	reaper, store := newReaperEnv(t, ReaperConfig{StaleMinutes: 30})
	job := saveLeased(t, store, "draft-1", 5*time.Minute, 0)

	result, err := reaper.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if result.Examined != 0 {
		t.Errorf("Examined = %d, fresh lease should not be examined", result.Examined)
	}

	got := store.Get(job.JobID)
	if got.Status != queue.StatusInProgress || got.Attempts != 0 {
		t.Errorf("fresh lease was touched: %s attempts=%d", got.Status, got.Attempts)
	}
}

func TestReapDeadLettersExhaustedJob(t *testing.T) {
	reaper, store := newReaperEnv(t, ReaperConfig{StaleMinutes: 30, MaxAttempts: 8})
	job := saveLeased(t, store, "draft-1", time.Hour, 8)

	var notified string
	reaper.SetNotifier(notifierFunc{deadLetter: func(jobID string, attempts int, errorCode string) {
		notified = jobID
	}})

	result, err := reaper.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if result.DeadLetters != 1 {
		t.Errorf("result = %+v, want one dead letter", result)
	}

	got := store.Get(job.JobID)
	if got.Status != queue.StatusDeadLetter {
		t.Errorf("Status = %s, want dead_letter", got.Status)
	}
	if got.Attempts != 9 {
		t.Errorf("Attempts = %d, want 9", got.Attempts)
	}
	if notified != job.JobID {
		t.Errorf("notifier got %q, want %q", notified, job.JobID)
	}
}

func TestReapDryRunTouchesNothing(t *testing.T) {
	reaper, store := newReaperEnv(t, ReaperConfig{StaleMinutes: 30, ReapAction: "dry_run"})
	job := saveLeased(t, store, "draft-1", time.Hour, 2)

	result, err := reaper.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if result.Examined != 1 || result.Requeued != 0 || result.DeadLetters != 0 {
		t.Errorf("result = %+v, dry run must only report", result)
	}

	got := store.Get(job.JobID)
	if got.Status != queue.StatusInProgress || got.Attempts != 2 {
		t.Errorf("dry run modified the job: %s attempts=%d", got.Status, got.Attempts)
	}
}

func TestReapSkipsJobCompletedMeanwhile(t *testing.T) {
	reaper, store := newReaperEnv(t, ReaperConfig{StaleMinutes: 30})
	job := saveLeased(t, store, "draft-1", time.Hour, 1)

	// A dispatcher finished the job between the scan and the write; the
	// reaper re-reads the snapshot before acting, so simulate by saving
	// a terminal snapshot that FindStale would still return stale data
	// for in a racier world.
	now := time.Now().UTC()
	job.Status = queue.StatusSent
	job.InProgressStartedAt = nil
	job.SentAt = &now
	if err := store.Save(job); err != nil {
		t.Fatal(err)
	}

	result, err := reaper.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}
	if result.Requeued != 0 && result.DeadLetters != 0 {
		t.Errorf("result = %+v, completed job must not be reaped", result)
	}

	got := store.Get(job.JobID)
	if got.Status != queue.StatusSent {
		t.Errorf("Status = %s, want sent", got.Status)
	}
}
