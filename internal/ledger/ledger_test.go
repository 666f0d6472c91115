package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.ndjson")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestAppendAndReload(t *testing.T) {
	store, path := openTestStore(t)

	for _, trackingID := range []string{"trk-1", "trk-2", "trk-3"} {
		event := NewEvent(EventDraftCreated, trackingID)
		event.TemplateID = "tpl-a"
		if err := store.Append(event); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3", store.Len())
	}
	store.Close()

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reloaded.Close()

	events := reloaded.AllEvents()
	if len(events) != 3 {
		t.Fatalf("reloaded %d events, want 3", len(events))
	}
	if events[0].TrackingID != "trk-1" || events[2].TrackingID != "trk-3" {
		t.Errorf("append order not preserved: %q ... %q", events[0].TrackingID, events[2].TrackingID)
	}
	if events[0].EventID == "" {
		t.Error("event ID missing after reload")
	}
}

func TestIdempotencyIndex(t *testing.T) {
	store, _ := openTestStore(t)

	if store.HasEvent("trk-1", EventSentDetected) {
		t.Error("HasEvent true before any append")
	}

	if err := store.Append(NewEvent(EventSentDetected, "trk-1")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if !store.HasEvent("trk-1", EventSentDetected) {
		t.Error("HasEvent false after append")
	}
	if store.HasEvent("trk-1", EventReplyDetected) {
		t.Error("HasEvent true for a different event type")
	}
	if store.HasEvent("trk-2", EventSentDetected) {
		t.Error("HasEvent true for a different tracking ID")
	}
}

func TestHasEventOnlyIndexesIdempotentTypes(t *testing.T) {
	store, _ := openTestStore(t)

	if err := store.Append(NewEvent(EventAutoSendAttempt, "trk-1")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if store.HasEvent("trk-1", EventAutoSendAttempt) {
		t.Error("attempt events must not be indexed")
	}
}

func TestIndexSurvivesReload(t *testing.T) {
	store, path := openTestStore(t)

	if err := store.Append(NewEvent(EventReplyDetected, "trk-9")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	store.Close()

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reloaded.Close()

	if !reloaded.HasEvent("trk-9", EventReplyDetected) {
		t.Error("idempotency index lost on reload")
	}
}

func TestTornTailSkipped(t *testing.T) {
	store, path := openTestStore(t)
	if err := store.Append(NewEvent(EventDraftCreated, "trk-1")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	store.Close()

	// Simulate a crashed writer: a half-written JSON line at the tail
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"event_id":"truncat`)
	f.Close()

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with torn tail failed: %v", err)
	}
	defer reloaded.Close()

	if reloaded.Len() != 1 {
		t.Errorf("Len() = %d after torn tail, want 1", reloaded.Len())
	}

	// Appending after a reload must still work
	if err := reloaded.Append(NewEvent(EventDraftCreated, "trk-2")); err != nil {
		t.Errorf("Append() after torn-tail reload failed: %v", err)
	}
}

func TestEventsSince(t *testing.T) {
	store, _ := openTestStore(t)

	old := NewEvent(EventDraftCreated, "trk-old")
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	recent := NewEvent(EventDraftCreated, "trk-new")

	if err := store.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(recent); err != nil {
		t.Fatal(err)
	}

	since := store.EventsSince(time.Now().UTC().Add(-time.Hour))
	if len(since) != 1 || since[0].TrackingID != "trk-new" {
		t.Errorf("EventsSince returned %d events, want only trk-new", len(since))
	}
}

func TestWithMeta(t *testing.T) {
	event := NewEvent(EventSentDetected, "trk-1").
		WithMeta("thread_id", "th-42").
		WithMeta("sent_date", "2026-08-01T10:00:00Z")

	if event.Meta["thread_id"] != "th-42" {
		t.Errorf("Meta[thread_id] = %v", event.Meta["thread_id"])
	}
	if len(event.Meta) != 2 {
		t.Errorf("Meta has %d keys, want 2", len(event.Meta))
	}
}
