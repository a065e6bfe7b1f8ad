//go:build cgo

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/multierr"
)

const malgoAvailable = true

// MalgoBackend captures through miniaudio, which picks the native API
// (ALSA, PulseAudio, CoreAudio, WASAPI) at runtime.
type MalgoBackend struct{}

// Open initialises a capture device and starts delivering frames
func (m *MalgoBackend) Open(ctx context.Context, opts StreamOptions) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: malgo init: %v", classifyOpenError(err.Error()), err)
	}

	s := &malgoStream{
		ctx:    mctx,
		rate:   opts.SampleRate,
		frames: make(chan []float32, 64),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	if opts.FrameSize > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(opts.FrameSize)
	}
	deviceConfig.Alsa.NoMMap = 1

	if opts.Source != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			s.releaseContext()
			return nil, fmt.Errorf("%w: list capture devices: %v", ErrDeviceUnavailable, err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == opts.Source {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			s.releaseContext()
			return nil, fmt.Errorf("%w: source not found: %s", ErrDeviceUnavailable, opts.Source)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: s.onRecvFrames})
	if err != nil {
		s.releaseContext()
		return nil, fmt.Errorf("%w: init device: %v", classifyOpenError(err.Error()), err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		s.releaseContext()
		return nil, fmt.Errorf("%w: device start: %v", classifyOpenError(err.Error()), err)
	}

	slog.Info("malgo capture started", "rate", opts.SampleRate, "source", opts.Source)
	return s, nil
}

// ListSources returns the names of capture devices
func (m *MalgoBackend) ListSources() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	sources := make([]string, 0, len(infos))
	for _, info := range infos {
		sources = append(sources, info.Name())
	}
	return sources, nil
}

// ValidateSource checks that a capture device with that name exists
func (m *MalgoBackend) ValidateSource(source string) error {
	if source == "" {
		return nil
	}
	sources, err := m.ListSources()
	if err != nil {
		return err
	}
	for _, s := range sources {
		if s == source {
			return nil
		}
	}
	return fmt.Errorf("source not found: %s", source)
}

// GetType returns the backend type
func (m *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rate   int

	mu     sync.Mutex
	closed bool
	frames chan []float32

	closeOnce sync.Once
	closeErr  error
}

func (s *malgoStream) Frames() <-chan []float32 { return s.frames }

func (s *malgoStream) SampleRate() int { return s.rate }

func (s *malgoStream) onRecvFrames(_, pSample []byte, framecount uint32) {
	if framecount == 0 {
		return
	}
	frame := make([]float32, framecount)
	decodeFloat32LE(pSample, frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		// drop if consumer is slow
	}
}

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		if s.device != nil {
			s.device.Uninit()
		}

		s.mu.Lock()
		s.closed = true
		close(s.frames)
		s.mu.Unlock()

		s.closeErr = s.releaseContext()
		slog.Debug("malgo capture stopped")
	})
	return s.closeErr
}

func (s *malgoStream) releaseContext() error {
	var errs error
	errs = multierr.Append(errs, s.ctx.Uninit())
	s.ctx.Free()
	return errs
}
