package play

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/audiolibrelab/chordwatch/internal/config"
)

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"G major":            "G_major",
		"20261018-101500_C#": "20261018-101500_C",
		"  A minor  ":        "A_minor",
		"../../etc/passwd":   "etcpasswd",
		"":                   "",
	}

	for input, expected := range tests {
		if got := CleanFileName(input); got != expected {
			t.Errorf("CleanFileName(%q): expected %q, got %q", input, expected, got)
		}
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "take_G_major.wav"), []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Output.Directory = dir
	p := New(cfg)

	for _, name := range []string{"take_G_major", "take_G_major.wav"} {
		path, err := p.Resolve(name)
		if err != nil {
			t.Fatalf("Expected %s to resolve, got %v", name, err)
		}
		if path != filepath.Join(dir, "take_G_major.wav") {
			t.Errorf("Expected path in output directory, got %s", path)
		}
	}

	if _, err := p.Resolve("missing"); err == nil {
		t.Error("Expected error for missing clip")
	}
	if _, err := p.Resolve("///"); err == nil {
		t.Error("Expected error for empty clip name")
	}
}

func TestPlayerArgs(t *testing.T) {
	args := playerArgs("ffplay", "/tmp/a.wav")
	if len(args) != 3 || args[2] != "/tmp/a.wav" {
		t.Errorf("Expected ffplay args to end with file, got %v", args)
	}
	args = playerArgs("pw-play", "/tmp/a.wav")
	if len(args) != 1 {
		t.Errorf("Expected single argument for pw-play, got %v", args)
	}
}
