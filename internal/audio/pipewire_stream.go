package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	pipeWireStartupTimeout = 3 * time.Second
	pipeWireStopTimeout    = 5 * time.Second
)

// pipeWireStream captures raw float32 audio from a pw-record process
type pipeWireStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrBuffer

	rate      int
	frameSize int
	frames    chan []float32

	quit      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// buildRecordArgs builds the pw-record argument list
func buildRecordArgs(opts StreamOptions) []string {
	args := []string{
		"--rate", strconv.Itoa(opts.SampleRate),
		"--channels", "1",
		"--format", "f32",
	}
	if opts.Source != "" {
		args = append(args, "--target", opts.Source)
	}
	// Raw samples on stdout
	return append(args, "-")
}

func startPipeWireStream(ctx context.Context, opts StreamOptions) (*pipeWireStream, error) {
	if opts.FrameSize <= 0 {
		opts.FrameSize = 480
	}

	args := buildRecordArgs(opts)
	slog.Info("Starting PipeWire capture", "command", "pw-record "+strings.Join(args, " "))

	cmd := exec.Command("pw-record", args...)
	cmd.Env = append(os.Environ(), "PIPEWIRE_LATENCY=256/48000")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start pw-record: %v", ErrDeviceUnavailable, err)
	}

	s := &pipeWireStream{
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		rate:      opts.SampleRate,
		frameSize: opts.FrameSize,
		frames:    make(chan []float32, 32),
		quit:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}

	first := make(chan error, 1)
	go s.readLoop(first)

	select {
	case err := <-first:
		if err != nil {
			s.Close()
			cause := strings.TrimSpace(s.stderr.String())
			if cause == "" {
				cause = err.Error()
			}
			return nil, fmt.Errorf("%w: %s", classifyOpenError(cause), cause)
		}
	case <-time.After(pipeWireStartupTimeout):
		s.Close()
		return nil, fmt.Errorf("%w: no audio from pw-record after %v", ErrDeviceUnavailable, pipeWireStartupTimeout)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	slog.Debug("PipeWire capture running", "rate", s.rate, "frame_size", s.frameSize)
	return s, nil
}

func (s *pipeWireStream) Frames() <-chan []float32 { return s.frames }

func (s *pipeWireStream) SampleRate() int { return s.rate }

// readLoop decodes stdout into frames; first receives the outcome of the
// first read so startup can tell a live stream from an early exit.
func (s *pipeWireStream) readLoop(first chan<- error) {
	defer close(s.readDone)
	defer close(s.frames)

	reader := bufio.NewReaderSize(s.stdout, s.frameSize*4*4)
	buf := make([]byte, s.frameSize*4)
	started := false

	for {
		_, err := io.ReadFull(reader, buf)
		if err != nil {
			if !started {
				first <- fmt.Errorf("pw-record exited before producing audio: %w", err)
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Debug("PipeWire capture read failed", "error", err)
			}
			return
		}

		frame := make([]float32, s.frameSize)
		decodeFloat32LE(buf, frame)

		if !started {
			started = true
			first <- nil
		}

		select {
		case s.frames <- frame:
		case <-s.quit:
			return
		}
	}
}

// Close stops the capture process and releases the device
func (s *pipeWireStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

// stop sends SIGINT, waits for the reader to drain and kills on timeout
func (s *pipeWireStream) stop() error {
	close(s.quit)

	var errs error
	if s.cmd.Process != nil {
		slog.Debug("Sending SIGINT to pw-record process")
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("Failed to send interrupt to pw-record, killing", "error", err)
			errs = multierr.Append(errs, s.killProcess())
		}
	}

	select {
	case <-s.readDone:
	case <-time.After(pipeWireStopTimeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		errs = multierr.Append(errs, s.killProcess())
		<-s.readDone
	}

	errs = multierr.Append(errs, normalizeExit(s.cmd.Wait(), s.stderr.String()))
	slog.Debug("PipeWire capture stopped")
	return errs
}

func (s *pipeWireStream) killProcess() error {
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill pw-record: %w", err)
	}
	return nil
}

// normalizeExit treats termination by our own signals as a clean exit
func normalizeExit(err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 255 || exitErr.ExitCode() == 130 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		return fmt.Errorf("pw-record failed: %w (output: %s)", err, stderr)
	}
	return fmt.Errorf("pw-record failed: %w", err)
}

// decodeFloat32LE converts little-endian float32 bytes into samples
func decodeFloat32LE(b []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

// stderrBuffer collects process stderr and mirrors it to debug logs
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			slog.Debug("pw-record output", "line", line)
		}
	}
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
