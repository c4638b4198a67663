package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	out, err := run(t, tmpDir, "init")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	trellisDir := filepath.Join(tmpDir, ".trellis")
	if _, err := os.Stat(trellisDir); os.IsNotExist(err) {
		t.Errorf(".trellis directory was not created")
	}

	content, err := os.ReadFile(filepath.Join(trellisDir, ".gitignore"))
	if err != nil {
		t.Errorf("failed to read .gitignore: %v", err)
	}
	if string(content) != "trellis.db*\n" {
		t.Errorf(".gitignore content mismatch: expected 'trellis.db*\\n', got %q", string(content))
	}

	if _, err := os.Stat(filepath.Join(trellisDir, "trellis.db")); os.IsNotExist(err) {
		t.Errorf("database file was not created")
	}

	if !strings.Contains(out, "Trellis initialized successfully") {
		t.Errorf("unexpected output: %s", out)
	}
	if strings.Contains(out, "Imported snapshot") {
		t.Errorf("nothing should be imported without a snapshot: %s", out)
	}
}

func TestInitIsRepeatable(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 2; i++ {
		if _, err := run(t, tmpDir, "init"); err != nil {
			t.Fatalf("init #%d failed: %v", i+1, err)
		}
	}
}

func TestInitImportsSnapshot(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := run(t, tmpDir, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := run(t, tmpDir, "feature", "create", "checkout", "-d", "pay for things"); err != nil {
		t.Fatalf("feature create failed: %v", err)
	}

	snapshotPath := filepath.Join(tmpDir, ".trellis", "snapshot.jsonl")
	if _, err := os.Stat(snapshotPath); os.IsNotExist(err) {
		t.Fatalf("auto snapshot was not written")
	}

	// A fresh clone has the snapshot but no database.
	files, err := filepath.Glob(filepath.Join(tmpDir, ".trellis", "trellis.db*"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			t.Fatalf("failed to remove %s: %v", f, err)
		}
	}

	out, err := run(t, tmpDir, "init")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "Imported snapshot") {
		t.Errorf("expected snapshot import, got: %s", out)
	}

	out, err = run(t, tmpDir, "feature", "list")
	if err != nil {
		t.Fatalf("feature list failed: %v", err)
	}
	if !strings.Contains(out, "checkout") {
		t.Errorf("imported feature missing from list: %s", out)
	}
}

func TestCommandsRequireInit(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := run(t, tmpDir, "status")
	if err == nil {
		t.Fatal("expected an error before init")
	}
	if !strings.Contains(err.Error(), "trellis init") {
		t.Errorf("error should point at init: %v", err)
	}
}
