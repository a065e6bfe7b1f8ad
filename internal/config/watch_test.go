package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_CallsOnChange(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "chordwatch.yaml")
	if err := os.WriteFile(configFile, []byte("active_config: default\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	if err := Watch(ctx, configFile, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// unrelated files in the same directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	select {
	case <-changed:
		t.Fatal("Expected no callback for another file")
	case <-time.After(3 * WatchDebounce):
	}

	if err := os.WriteFile(configFile, []byte("active_config: studio\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a callback after the config file changed")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "chordwatch.yaml"), func() {})
	if err == nil {
		t.Fatal("Expected error when the directory does not exist")
	}
}
