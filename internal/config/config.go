package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteRoot when it would overwrite a file
var ErrConfigExists = errors.New("config file already exists")

// EnvPrefix is the prefix for environment variable overrides (CHORDWATCH_...)
const EnvPrefix = "CHORDWATCH"

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// ConfigProfile holds a partial configuration; zero values fall back to the
// default profile and then to the built-in defaults.
type ConfigProfile struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Predictor PredictorConfig `mapstructure:"predictor" yaml:"predictor"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Predictor PredictorConfig `mapstructure:"predictor" yaml:"predictor"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`

	// Name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"` // "pipewire", "malgo", "auto"
	Source       string `mapstructure:"source" yaml:"source"`   // capture node; empty = system default
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	AnalyserSize int    `mapstructure:"analyser_size" yaml:"analyser_size"`
	FrameSize    int    `mapstructure:"frame_size" yaml:"frame_size"`
}

type DetectionConfig struct {
	Threshold           float64 `mapstructure:"threshold" yaml:"threshold"`
	RecordingDurationMs int     `mapstructure:"recording_duration_ms" yaml:"recording_duration_ms"`
	PollIntervalMs      int     `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

type PredictorConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	FileField string `mapstructure:"file_field" yaml:"file_field"`
	FileName  string `mapstructure:"file_name" yaml:"file_name"`
	TimeoutMs int    `mapstructure:"timeout_ms" yaml:"timeout_ms"` // 0 = no client timeout
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	KeepClips bool   `mapstructure:"keep_clips" yaml:"keep_clips"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:      "auto",
			SampleRate:   48000,
			AnalyserSize: 256,
			FrameSize:    480,
		},
		Detection: DetectionConfig{
			Threshold:           0.02,
			RecordingDurationMs: 3000,
			PollIntervalMs:      16,
		},
		Predictor: PredictorConfig{
			BaseURL:   "http://127.0.0.1:5000",
			Endpoint:  "/predict",
			FileField: "file",
			FileName:  "recording.wav",
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "ChordWatch"),
		},
		Profile: "default",
	}
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/chordwatch.yaml")
}

// RecordingDuration returns the fixed clip length
func (c *Config) RecordingDuration() time.Duration {
	return time.Duration(c.Detection.RecordingDurationMs) * time.Millisecond
}

// PollInterval returns the volume monitor tick interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Detection.PollIntervalMs) * time.Millisecond
}

// PredictorTimeout returns the HTTP client timeout, zero meaning none
func (c *Config) PredictorTimeout() time.Duration {
	return time.Duration(c.Predictor.TimeoutMs) * time.Millisecond
}

// PredictURL joins the predictor base URL and endpoint
func (c *Config) PredictURL() string {
	return strings.TrimRight(c.Predictor.BaseURL, "/") + "/" + strings.TrimLeft(c.Predictor.Endpoint, "/")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: config file %s does not exist", profile, configFile)
		}
		cfg := Default()
		applyEnvOverrides(cfg)
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" || len(rootConfig.Configs) > 0 {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selectedProfile = &ConfigProfile{}
	}

	selectedConfig := Default()
	if defaultProfile, ok := rootConfig.Configs["default"]; ok && configName != "default" {
		selectedConfig = mergeProfile(selectedConfig, defaultProfile)
	}
	selectedConfig = mergeProfile(selectedConfig, selectedProfile)
	selectedConfig.Profile = configName

	applyEnvOverrides(selectedConfig)

	// Expand tilde in output directory
	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// NewRootConfig wraps a single profile as the active "default" profile
func NewRootConfig(p *ConfigProfile) *RootConfig {
	return &RootConfig{
		ActiveConfig: "default",
		Configs:      map[string]*ConfigProfile{"default": p},
	}
}

// WriteRoot writes root as YAML to configFile, creating parent directories
func WriteRoot(configFile string, root *RootConfig, overwrite bool) error {
	for name, p := range root.Configs {
		if err := validateProfile(p); err != nil {
			return fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	if !overwrite {
		if _, err := os.Stat(configFile); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, configFile)
		}
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, out, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// ProfileNames lists the profiles declared in the config file
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	return names, nil
}

// mergeProfile overlays the non-zero fields of profile onto base.
// KeepClips is a plain bool, so a profile can only switch it on.
func mergeProfile(base *Config, profile *ConfigProfile) *Config {
	result := *base
	if profile == nil {
		return &result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
	}
	if profile.Audio.AnalyserSize != 0 {
		result.Audio.AnalyserSize = profile.Audio.AnalyserSize
	}
	if profile.Audio.FrameSize != 0 {
		result.Audio.FrameSize = profile.Audio.FrameSize
	}

	if profile.Detection.Threshold != 0 {
		result.Detection.Threshold = profile.Detection.Threshold
	}
	if profile.Detection.RecordingDurationMs != 0 {
		result.Detection.RecordingDurationMs = profile.Detection.RecordingDurationMs
	}
	if profile.Detection.PollIntervalMs != 0 {
		result.Detection.PollIntervalMs = profile.Detection.PollIntervalMs
	}

	if profile.Predictor.BaseURL != "" {
		result.Predictor.BaseURL = profile.Predictor.BaseURL
	}
	if profile.Predictor.Endpoint != "" {
		result.Predictor.Endpoint = profile.Predictor.Endpoint
	}
	if profile.Predictor.FileField != "" {
		result.Predictor.FileField = profile.Predictor.FileField
	}
	if profile.Predictor.FileName != "" {
		result.Predictor.FileName = profile.Predictor.FileName
	}
	if profile.Predictor.TimeoutMs != 0 {
		result.Predictor.TimeoutMs = profile.Predictor.TimeoutMs
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
	}
	if profile.Output.KeepClips {
		result.Output.KeepClips = true
	}

	return &result
}

// applyEnvOverrides lets CHORDWATCH_PREDICTOR_BASE_URL and friends win over
// the file for the handful of settings that change per machine.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("predictor.base_url"); s != "" {
		cfg.Predictor.BaseURL = s
	}
	if s := v.GetString("audio.backend"); s != "" {
		cfg.Audio.Backend = s
	}
	if s := v.GetString("audio.source"); s != "" {
		cfg.Audio.Source = s
	}
	if f := v.GetFloat64("detection.threshold"); f != 0 {
		cfg.Detection.Threshold = f
	}
	if s := v.GetString("output.directory"); s != "" {
		cfg.Output.Directory = s
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks a resolved configuration
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pipewire", "malgo", "auto":
	default:
		return fmt.Errorf("audio.backend must be 'pipewire', 'malgo' or 'auto', got: %s", cfg.Audio.Backend)
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.AnalyserSize <= 0 {
		return fmt.Errorf("audio.analyser_size must be > 0, got: %d", cfg.Audio.AnalyserSize)
	}
	if cfg.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio.frame_size must be > 0, got: %d", cfg.Audio.FrameSize)
	}

	if cfg.Detection.Threshold <= 0 || cfg.Detection.Threshold >= 1 {
		return fmt.Errorf("detection.threshold must be in (0, 1), got: %.3f", cfg.Detection.Threshold)
	}
	if cfg.Detection.RecordingDurationMs <= 0 {
		return fmt.Errorf("detection.recording_duration_ms must be > 0, got: %d", cfg.Detection.RecordingDurationMs)
	}
	if cfg.Detection.PollIntervalMs <= 0 {
		return fmt.Errorf("detection.poll_interval_ms must be > 0, got: %d", cfg.Detection.PollIntervalMs)
	}

	u, err := url.Parse(cfg.Predictor.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("predictor.base_url must be an http(s) URL, got: %s", cfg.Predictor.BaseURL)
	}
	if cfg.Predictor.FileField == "" {
		return fmt.Errorf("predictor.file_field is required")
	}
	if cfg.Predictor.FileName == "" {
		return fmt.Errorf("predictor.file_name is required")
	}
	if cfg.Predictor.TimeoutMs < 0 {
		return fmt.Errorf("predictor.timeout_ms must be >= 0, got: %d", cfg.Predictor.TimeoutMs)
	}

	if cfg.Output.KeepClips && cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required when output.keep_clips is enabled")
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rootConfig.ActiveConfig != "" && len(rootConfig.Configs) > 0 {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not match any entry in configs", rootConfig.ActiveConfig)
		}
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the fields a profile sets explicitly
func validateProfile(p *ConfigProfile) error {
	if p.Detection.Threshold < 0 || p.Detection.Threshold >= 1 {
		return fmt.Errorf("detection.threshold must be in (0, 1), got: %.3f", p.Detection.Threshold)
	}
	if p.Detection.RecordingDurationMs < 0 {
		return fmt.Errorf("detection.recording_duration_ms must be >= 0, got: %d", p.Detection.RecordingDurationMs)
	}
	if p.Detection.PollIntervalMs < 0 {
		return fmt.Errorf("detection.poll_interval_ms must be >= 0, got: %d", p.Detection.PollIntervalMs)
	}
	if p.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be >= 0, got: %d", p.Audio.SampleRate)
	}
	if p.Predictor.TimeoutMs < 0 {
		return fmt.Errorf("predictor.timeout_ms must be >= 0, got: %d", p.Predictor.TimeoutMs)
	}
	return nil
}
