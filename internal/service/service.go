package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/play"
	"github.com/audiolibrelab/chordwatch/internal/predict"
	"github.com/audiolibrelab/chordwatch/internal/session"
	"github.com/audiolibrelab/chordwatch/internal/transcode"
	"github.com/audiolibrelab/chordwatch/internal/wav"
)

// Service represents the core ChordWatch service interface
type Service interface {
	// Listening operations
	StartListening(ctx context.Context) error
	StopListening() error
	ToggleListening(ctx context.Context) error
	Status() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())

	// One-shot classification of an existing WAV file
	ClassifyFile(ctx context.Context, path string) (string, error)

	// Clip archive operations
	ListClips() ([]ClipInfo, error)
	PlayClip(name string) error

	// Configuration operations
	LoadProfile(profile string) error
	Reload() error
	GetConfig() *config.Config

	// Information operations
	GetLastError() string

	Close() error
}

// ChordWatchService is the main service implementation
type ChordWatchService struct {
	cfgMutex   sync.RWMutex
	cfg        *config.Config
	configFile string

	controller *session.Controller
	newBackend func(*config.Config) audio.Backend

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Option customizes service construction
type Option func(*ChordWatchService)

// WithBackendFactory replaces audio.NewBackend
func WithBackendFactory(f func(*config.Config) audio.Backend) Option {
	return func(s *ChordWatchService) { s.newBackend = f }
}

// New creates a new ChordWatch service instance
func New(cfg *config.Config, configFile string, opts ...Option) *ChordWatchService {
	s := &ChordWatchService{
		cfg:        cfg,
		configFile: configFile,
		newBackend: audio.NewBackend,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.controller = session.New(cfg, s.newBackend(cfg), newClassifier(cfg))
	return s
}

// newClassifier builds the prediction client, archiving clips when enabled
func newClassifier(cfg *config.Config) session.Classifier {
	client := predict.New(cfg)
	if cfg.Output.KeepClips {
		return NewArchiver(client, cfg.Output.Directory)
	}
	return client
}

// StartListening opens the microphone and starts detecting chords
func (s *ChordWatchService) StartListening(ctx context.Context) error {
	slog.Debug("Service.StartListening called")
	s.clearLastError()
	if err := s.controller.Start(ctx); err != nil {
		s.setLastError(s.controller.Snapshot().Error)
		return err
	}
	return nil
}

// StopListening releases the microphone, aborting any cycle in progress
func (s *ChordWatchService) StopListening() error {
	if err := s.controller.Stop(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop listening: %v", err))
		return err
	}
	return nil
}

// ToggleListening flips between listening and idle
func (s *ChordWatchService) ToggleListening(ctx context.Context) error {
	s.clearLastError()
	if err := s.controller.Toggle(ctx); err != nil {
		msg := s.controller.Snapshot().Error
		if msg == "" {
			msg = err.Error()
		}
		s.setLastError(msg)
		return err
	}
	return nil
}

// Status returns the current controller snapshot
func (s *ChordWatchService) Status() session.Snapshot {
	return s.controller.Snapshot()
}

// Subscribe streams controller snapshots
func (s *ChordWatchService) Subscribe() (<-chan session.Snapshot, func()) {
	return s.controller.Subscribe()
}

// ClassifyFile uploads an audio file to the prediction service. Files that
// are not WAV are converted with ffmpeg first.
func (s *ChordWatchService) ClassifyFile(ctx context.Context, path string) (string, error) {
	cfg := s.GetConfig()

	info, err := readWAVInfo(path)
	if errors.Is(err, wav.ErrNotWAV) {
		converted, cleanup, cerr := transcode.New(cfg).ToWAV(ctx, path)
		if cerr != nil {
			return "", fmt.Errorf("%s: %w", path, cerr)
		}
		defer cleanup()
		slog.Debug("Converted to WAV", "path", path, "converted", converted)
		path = converted
		info, err = readWAVInfo(path)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	id := uuid.NewString()
	slog.Info("Classifying file", "path", path, "sample_rate", info.SampleRate, "duration", info.Duration(), "correlation_id", id)

	return predict.New(cfg).Predict(ctx, f, id)
}

func readWAVInfo(path string) (wav.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return wav.Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return wav.ReadInfo(f)
}

// ListClips returns archived clips, newest first
func (s *ChordWatchService) ListClips() ([]ClipInfo, error) {
	return ListClips(s.GetConfig().Output.Directory)
}

// PlayClip plays an archived clip with the first available player
func (s *ChordWatchService) PlayClip(name string) error {
	return play.New(s.GetConfig()).Play(name)
}

// LoadProfile loads a new configuration profile. The session must be idle.
func (s *ChordWatchService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	if err := s.controller.Reconfigure(newCfg, s.newBackend(newCfg), newClassifier(newCfg)); err != nil {
		return fmt.Errorf("cannot switch to profile '%s': %w", profile, err)
	}

	s.cfgMutex.Lock()
	s.cfg = newCfg
	s.cfgMutex.Unlock()

	slog.Info("Configuration loaded", "profile", newCfg.Profile)
	return nil
}

// Reload re-reads the configuration file for the current profile
func (s *ChordWatchService) Reload() error {
	return s.LoadProfile(s.GetConfig().Profile)
}

// GetConfig returns the current configuration
func (s *ChordWatchService) GetConfig() *config.Config {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// Close stops listening
func (s *ChordWatchService) Close() error {
	return s.controller.Stop()
}

// GetLastError returns the last error message (thread-safe)
func (s *ChordWatchService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *ChordWatchService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *ChordWatchService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
