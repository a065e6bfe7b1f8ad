package audio

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/chordwatch/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypeAuto     BackendType = "auto"
)

var (
	// ErrPermissionDenied means the platform refused microphone access
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrDeviceUnavailable means the capture device could not be opened
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrStreamClosed is returned when recording from a stream that has ended
	ErrStreamClosed = errors.New("capture stream closed")
	// ErrRecordingStalled means a clip did not fill within its deadline
	ErrRecordingStalled = errors.New("recording stalled")
)

// StreamOptions describe the capture format requested from a backend
type StreamOptions struct {
	Source     string
	SampleRate int
	FrameSize  int
}

// Stream delivers mono float32 frames until it is closed or the device goes
// away, at which point Frames is closed.
type Stream interface {
	Frames() <-chan []float32
	SampleRate() int
	Close() error
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// Open starts capturing from the configured source
	Open(ctx context.Context, opts StreamOptions) (Stream, error)

	// List available audio sources
	ListSources() ([]string, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	GetType() BackendType
}

// NewBackend creates the backend selected by configuration
func NewBackend(cfg *config.Config) Backend {
	switch determineBackend(cfg) {
	case BackendTypeMalgo:
		return &MalgoBackend{}
	default:
		return &PipeWireBackend{}
	}
}

// OptionsFromConfig builds stream options from the audio section
func OptionsFromConfig(cfg *config.Config) StreamOptions {
	return StreamOptions{
		Source:     cfg.Audio.Source,
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pipewire":
		return BackendTypePipeWire
	case "malgo":
		return BackendTypeMalgo
	}

	// auto: prefer PipeWire when its tools are installed
	if _, err := exec.LookPath("pw-record"); err == nil {
		return BackendTypePipeWire
	}
	if malgoAvailable {
		return BackendTypeMalgo
	}
	return BackendTypePipeWire
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}

	if _, err := exec.LookPath("pw-record"); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	if malgoAvailable {
		backends = append(backends, BackendTypeMalgo)
	}

	return backends
}

// classifyOpenError maps backend error text onto the sentinel errors
func classifyOpenError(msg string) error {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"permission denied", "access denied", "not permitted", "eacces"} {
		if strings.Contains(lower, marker) {
			return ErrPermissionDenied
		}
	}
	return ErrDeviceUnavailable
}
