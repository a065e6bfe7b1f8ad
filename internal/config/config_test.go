package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMergeProfile_SelectionAndFallback(t *testing.T) {
	base := Default()

	profile := &ConfigProfile{
		Audio: AudioConfig{
			Source:     "alsa_input.usb-Focusrite_Scarlett",
			SampleRate: 44100,
		},
		Detection: DetectionConfig{
			Threshold: 0.05,
		},
		Predictor: PredictorConfig{
			BaseURL: "http://chords.local:8000",
		},
	}

	result := mergeProfile(base, profile)

	if result.Audio.Source != "alsa_input.usb-Focusrite_Scarlett" {
		t.Errorf("Expected overridden source, got %s", result.Audio.Source)
	}
	if result.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", result.Audio.SampleRate)
	}
	if result.Audio.Backend != "auto" {
		t.Errorf("Expected inherited backend 'auto', got %s", result.Audio.Backend)
	}
	if result.Detection.Threshold != 0.05 {
		t.Errorf("Expected threshold 0.05, got %.3f", result.Detection.Threshold)
	}
	if result.Detection.RecordingDurationMs != 3000 {
		t.Errorf("Expected inherited recording duration 3000ms, got %d", result.Detection.RecordingDurationMs)
	}
	if result.Predictor.BaseURL != "http://chords.local:8000" {
		t.Errorf("Expected overridden base URL, got %s", result.Predictor.BaseURL)
	}
	if result.Predictor.Endpoint != "/predict" {
		t.Errorf("Expected inherited endpoint '/predict', got %s", result.Predictor.Endpoint)
	}

	// base must not be modified
	if base.Audio.SampleRate != 48000 {
		t.Errorf("Expected base sample rate to stay 48000, got %d", base.Audio.SampleRate)
	}
}

func TestMergeProfile_EmptyProfile(t *testing.T) {
	base := Default()
	result := mergeProfile(base, &ConfigProfile{})

	if *result != *base {
		t.Errorf("Expected empty profile to leave config unchanged, got %+v", result)
	}

	result = mergeProfile(base, nil)
	if *result != *base {
		t.Errorf("Expected nil profile to leave config unchanged, got %+v", result)
	}
}

func TestMergeProfile_KeepClips(t *testing.T) {
	base := Default()
	result := mergeProfile(base, &ConfigProfile{Output: OutputConfig{KeepClips: true}})

	if !result.Output.KeepClips {
		t.Error("Expected keep_clips to be enabled by profile")
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Detection.Threshold != 0.02 {
		t.Errorf("Expected default threshold 0.02, got %.3f", cfg.Detection.Threshold)
	}
	if cfg.RecordingDuration().Milliseconds() != 3000 {
		t.Errorf("Expected default recording duration 3000ms, got %v", cfg.RecordingDuration())
	}
	if cfg.PredictURL() != "http://127.0.0.1:5000/predict" {
		t.Errorf("Expected default predict URL, got %s", cfg.PredictURL())
	}
	if cfg.PredictorTimeout() != 0 {
		t.Errorf("Expected no predictor timeout by default, got %v", cfg.PredictorTimeout())
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestPredictURL_Slashes(t *testing.T) {
	cfg := Default()
	cfg.Predictor.BaseURL = "http://example.com:5000/"
	cfg.Predictor.Endpoint = "predict"

	if cfg.PredictURL() != "http://example.com:5000/predict" {
		t.Errorf("Expected joined URL, got %s", cfg.PredictURL())
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/ChordWatch", filepath.Join(homeDir, "Audio/ChordWatch")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := LoadWithProfile(missing, "")
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Profile != "default" {
		t.Errorf("Expected profile 'default', got %s", cfg.Profile)
	}
	if cfg.Detection.Threshold != 0.02 {
		t.Errorf("Expected default threshold, got %.3f", cfg.Detection.Threshold)
	}
}

func TestLoadWithProfile_MissingFileUnknownProfile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := LoadWithProfile(missing, "studio"); err == nil {
		t.Error("Expected error for named profile without config file")
	}
}

func TestLoadWithProfile_ProfileInheritsDefault(t *testing.T) {
	content := `
active_config: studio

configs:
  default:
    predictor:
      base_url: http://127.0.0.1:5001
    detection:
      threshold: 0.03
  studio:
    audio:
      backend: pipewire
      source: alsa_input.usb-Focusrite
    output:
      directory: ~/Audio/Studio
      keep_clips: true
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Profile != "studio" {
		t.Errorf("Expected active profile 'studio', got %s", cfg.Profile)
	}
	if cfg.Audio.Backend != "pipewire" || cfg.Audio.Source != "alsa_input.usb-Focusrite" {
		t.Errorf("Expected studio audio settings, got %+v", cfg.Audio)
	}
	if cfg.Predictor.BaseURL != "http://127.0.0.1:5001" {
		t.Errorf("Expected base URL inherited from default profile, got %s", cfg.Predictor.BaseURL)
	}
	if cfg.Detection.Threshold != 0.03 {
		t.Errorf("Expected threshold inherited from default profile, got %.3f", cfg.Detection.Threshold)
	}
	if cfg.Detection.RecordingDurationMs != 3000 {
		t.Errorf("Expected built-in recording duration, got %d", cfg.Detection.RecordingDurationMs)
	}

	homeDir, _ := os.UserHomeDir()
	if cfg.Output.Directory != filepath.Join(homeDir, "Audio/Studio") {
		t.Errorf("Expected expanded output directory, got %s", cfg.Output.Directory)
	}
	if !cfg.Output.KeepClips {
		t.Error("Expected keep_clips enabled")
	}
}

func TestLoadWithProfile_FlagOverridesActiveConfig(t *testing.T) {
	content := `
active_config: studio

configs:
  default:
    detection:
      threshold: 0.03
  studio:
    detection:
      threshold: 0.1
  stage:
    detection:
      threshold: 0.2
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "stage")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Profile != "stage" || cfg.Detection.Threshold != 0.2 {
		t.Errorf("Expected stage profile with threshold 0.2, got %s / %.2f", cfg.Profile, cfg.Detection.Threshold)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	content := `
configs:
  default:
    detection:
      threshold: 0.03
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "nonexistent")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !contains(err.Error(), "configuration profile 'nonexistent' not found") {
		t.Errorf("Expected profile not found error, got: %v", err)
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	content := `
active_config: default

configs:
  default:
    detection:
      threshold: 0.03
  studio:
    detection:
      threshold: 0.1
`
	configFile := createTempConfig(t, content)
	defer os.Remove(configFile)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error after update, got: %v", err)
	}
	if cfg.Profile != "studio" {
		t.Errorf("Expected active profile 'studio' after update, got %s", cfg.Profile)
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error when activating unknown profile")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && containsSubstring(s, substr)))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestWriteRoot_RoundTripsThroughLoad(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "chordwatch.yaml")

	root := NewRootConfig(&ConfigProfile{
		Detection: DetectionConfig{Threshold: 0.05},
		Predictor: PredictorConfig{BaseURL: "http://chords.local:8000"},
	})
	if err := WriteRoot(configFile, root, false); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected written file to load, got: %v", err)
	}
	if cfg.Profile != "default" {
		t.Errorf("Expected profile 'default', got %s", cfg.Profile)
	}
	if cfg.Detection.Threshold != 0.05 {
		t.Errorf("Expected threshold 0.05, got %f", cfg.Detection.Threshold)
	}
	if cfg.Predictor.BaseURL != "http://chords.local:8000" {
		t.Errorf("Expected base URL from file, got %s", cfg.Predictor.BaseURL)
	}
	if cfg.Detection.RecordingDurationMs != 3000 {
		t.Errorf("Expected default duration to survive, got %d", cfg.Detection.RecordingDurationMs)
	}
}

func TestWriteRoot_RefusesOverwrite(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")
	defer os.Remove(configFile)

	err := WriteRoot(configFile, NewRootConfig(&ConfigProfile{}), false)
	if !errors.Is(err, ErrConfigExists) {
		t.Fatalf("Expected ErrConfigExists, got: %v", err)
	}

	if err := WriteRoot(configFile, NewRootConfig(&ConfigProfile{}), true); err != nil {
		t.Fatalf("Expected overwrite to succeed, got: %v", err)
	}
}

func TestWriteRoot_RejectsInvalidProfile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "chordwatch.yaml")
	err := WriteRoot(configFile, NewRootConfig(&ConfigProfile{Detection: DetectionConfig{Threshold: 2}}), false)
	if err == nil {
		t.Fatal("Expected error for threshold outside (0, 1)")
	}
	if _, statErr := os.Stat(configFile); !os.IsNotExist(statErr) {
		t.Error("Expected no file to be written")
	}
}
