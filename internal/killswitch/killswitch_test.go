package killswitch

import (
	"os"
	"path/filepath"
	"testing"
)

func testSwitch(t *testing.T) (*Switch, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kill_switch.json")
	// Zero TTL so tests observe every write immediately
	return NewWithTTL(path, 0), path
}

func TestMissingFileMeansDisabled(t *testing.T) {
	ks, _ := testSwitch(t)

	state, err := ks.Get()
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if state.Enabled {
		t.Error("missing file should read as disabled")
	}
	if ks.IsEnabled() {
		t.Error("IsEnabled() = true with no file")
	}
}

func TestSetAndReadBack(t *testing.T) {
	ks, path := testSwitch(t)

	if err := ks.SetEnabled("pausing during incident", "alice"); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}

	// A fresh switch over the same path must see the write
	fresh := NewWithTTL(path, 0)
	state, err := fresh.Get()
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !state.Enabled {
		t.Error("Enabled = false after SetEnabled")
	}
	if state.Reason != "pausing during incident" || state.SetBy != "alice" {
		t.Errorf("audit fields lost: %+v", state)
	}
	if state.SetAt.IsZero() {
		t.Error("SetAt not recorded")
	}

	if err := ks.SetDisabled("incident resolved", "alice"); err != nil {
		t.Fatalf("SetDisabled() failed: %v", err)
	}
	if fresh.IsEnabled() {
		t.Error("IsEnabled() = true after SetDisabled")
	}
}

func TestCorruptFileFailsClosed(t *testing.T) {
	ks, path := testSwitch(t)

	if err := os.WriteFile(path, []byte(`{"enabled": tru`), 0o644); err != nil {
		t.Fatal(err)
	}

	state, err := ks.Get()
	if err != nil {
		t.Fatalf("Get() on corrupt file failed: %v", err)
	}
	if !state.Enabled {
		t.Error("corrupt file must fail closed")
	}
	if state.SetBy != "system" {
		t.Errorf("SetBy = %q, want system", state.SetBy)
	}
	if !ks.IsEnabled() {
		t.Error("IsEnabled() = false on corrupt file")
	}
}

func TestWriteIsAtomic(t *testing.T) {
	ks, path := testSwitch(t)

	if err := ks.SetEnabled("stop", "ops"); err != nil {
		t.Fatal(err)
	}

	// No temp files should survive the rename
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries after write, want only the switch file", len(entries))
	}
}

func TestCacheServesStaleReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kill_switch.json")
	cached := New(path) // default 2s TTL

	if cached.IsEnabled() {
		t.Fatal("switch enabled before any write")
	}

	// Write behind the cache's back
	other := NewWithTTL(path, 0)
	if err := other.SetEnabled("stop", "ops"); err != nil {
		t.Fatal(err)
	}

	// The cached switch still serves the old state within the TTL
	if cached.IsEnabled() {
		t.Error("read cache did not serve the cached state")
	}

	// But its own writes refresh the cache immediately
	if err := cached.SetEnabled("stop", "ops"); err != nil {
		t.Fatal(err)
	}
	if !cached.IsEnabled() {
		t.Error("own write did not refresh the cache")
	}
}
