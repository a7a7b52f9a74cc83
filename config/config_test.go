package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	c := New()

	if c.GroupFactor() != defaultGroupFactor {
		t.Fatalf("expected default group factor %d, got %d", defaultGroupFactor, c.GroupFactor())
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.GroupFactor() != defaultGroupFactor {
		t.Fatalf("expected default group factor, got %d", c.GroupFactor())
	}
}

func TestLoad_ReadsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"group_factor": 8, "steal_retry_millis": 5}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.GroupFactor() != 8 {
		t.Fatalf("expected group factor 8, got %d", c.GroupFactor())
	}

	if c.StealRetryMillis() != 5 {
		t.Fatalf("expected steal retry 5ms, got %d", c.StealRetryMillis())
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"group_factor": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer c.Close()

	if err := os.WriteFile(path, []byte(`{"group_factor": 16}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.GroupFactor() != 16 {
		time.Sleep(10 * time.Millisecond)
	}

	if c.GroupFactor() != 16 {
		t.Fatalf("expected hot-reloaded group factor 16, got %d", c.GroupFactor())
	}
}

func TestSatisfies_EmptyConstraintAlwaysMatches(t *testing.T) {
	ok, err := Satisfies("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ok {
		t.Fatal("expected empty constraint to satisfy")
	}
}

func TestSatisfies_RejectsIncompatibleConstraint(t *testing.T) {
	ok, err := Satisfies(">=99.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok {
		t.Fatal("expected current version to fail a >=99.0.0 constraint")
	}
}
