// Package session runs the listen → record → analyze state machine over a
// capture stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/predict"
)

// DefaultStallGrace is added to the clip duration before a recording is
// considered stalled
const DefaultStallGrace = 2 * time.Second

// ErrBusy is returned when an operation needs an idle controller
var ErrBusy = errors.New("session is active")

// Option configures a Controller
type Option func(*Controller)

// WithMeter replaces the analyser reading used by the monitor
func WithMeter(m Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithStallGrace overrides DefaultStallGrace
func WithStallGrace(d time.Duration) Option {
	return func(c *Controller) { c.stallGrace = d }
}

// Controller owns at most one capture session and publishes its state
type Controller struct {
	// opMu serializes Start, Stop and Reconfigure
	opMu sync.Mutex

	mu         sync.Mutex
	cfg        *config.Config
	backend    audio.Backend
	classifier Classifier
	meter      Meter
	stallGrace time.Duration

	state   State
	chord   string
	status  string
	errMsg  string
	cycles  int
	updated time.Time
	current *run

	volume *atomic.Float64

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// run is everything owned by one capture session
type run struct {
	stream   audio.Stream
	analyser *audio.Analyser
	recorder *audio.ClipRecorder
	meter    Meter
	ctx      context.Context
	cancel   context.CancelFunc
	wg       conc.WaitGroup
}

// New creates an idle controller
func New(cfg *config.Config, backend audio.Backend, classifier Classifier, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		backend:    backend,
		classifier: classifier,
		stallGrace: DefaultStallGrace,
		state:      StateNotListening,
		status:     StatusIdle,
		updated:    time.Now(),
		volume:     atomic.NewFloat64(0),
		subs:       make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the capture stream and begins monitoring. Calling Start on a
// running controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.start(ctx)
}

// start must be called with opMu held
func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}
	cfg, backend := c.cfg, c.backend
	c.mu.Unlock()

	stream, err := backend.Open(ctx, audio.OptionsFromConfig(cfg))
	if err != nil {
		msg := openErrorMessage(err)
		slog.Error("Failed to open microphone", "backend", backend.GetType(), "error", err)
		c.mu.Lock()
		c.errMsg = msg
		c.touch()
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("failed to open capture stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		stream:   stream,
		analyser: audio.NewAnalyser(cfg.Audio.AnalyserSize),
		recorder: audio.NewClipRecorder(),
		ctx:      runCtx,
		cancel:   cancel,
	}
	r.meter = r.analyser

	c.mu.Lock()
	if c.meter != nil {
		r.meter = c.meter
	}
	c.current = r
	c.state = StateListening
	c.status = StatusListening
	c.errMsg = ""
	c.touch()
	c.mu.Unlock()

	slog.Info("Listening for chords",
		"backend", backend.GetType(),
		"sample_rate", stream.SampleRate(),
		"threshold", cfg.Detection.Threshold,
		"duration", cfg.RecordingDuration())

	r.wg.Go(func() { c.pump(r) })
	r.wg.Go(func() { c.monitor(r) })

	c.publish()
	return nil
}

// Stop tears down the capture session, aborting any cycle in progress
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.teardown(nil, "")
}

// Toggle starts an idle controller or stops a running one
func (c *Controller) Toggle(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	running := c.current != nil
	c.mu.Unlock()

	if running {
		return c.teardown(nil, "")
	}
	return c.start(ctx)
}

// Reconfigure swaps configuration and collaborators while idle
func (c *Controller) Reconfigure(cfg *config.Config, backend audio.Backend, classifier Classifier) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.cfg = cfg
	c.backend = backend
	c.classifier = classifier
	c.touch()
	c.mu.Unlock()

	c.publish()
	return nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		State:     c.state,
		Volume:    c.volume.Load(),
		Threshold: c.cfg.Detection.Threshold,
		Chord:     c.chord,
		Status:    c.status,
		Error:     c.errMsg,
		Cycles:    c.cycles,
		UpdatedAt: c.updated,
	}
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Slow readers skip intermediate states. Call the returned func to
// unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.Snapshot()
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if len(c.subs) == 0 {
		return
	}
	snap := c.Snapshot()
	for ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// touch must be called with mu held
func (c *Controller) touch() {
	c.updated = time.Now()
}

// teardown stops the current session. When expect is set only that session
// is stopped.
func (c *Controller) teardown(expect *run, errMsg string) error {
	c.mu.Lock()
	r := c.current
	if r == nil || (expect != nil && r != expect) {
		c.mu.Unlock()
		return nil
	}
	c.current = nil
	c.state = StateNotListening
	c.status = StatusIdle
	if errMsg != "" {
		c.errMsg = errMsg
	}
	c.volume.Store(0)
	c.touch()
	c.mu.Unlock()

	r.cancel()
	err := r.stream.Close()
	r.recorder.Close()
	r.wg.Wait()

	slog.Info("Stopped listening")
	c.publish()

	if err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	return nil
}

// pump feeds stream frames to the analyser and the clip recorder
func (c *Controller) pump(r *run) {
	frames := r.stream.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				r.recorder.Close()
				if r.ctx.Err() == nil {
					slog.Warn("Capture stream ended unexpectedly")
					go func() {
						c.opMu.Lock()
						defer c.opMu.Unlock()
						c.teardown(r, MsgInputLost)
					}()
				}
				return
			}
			r.analyser.Write(frame)
			r.recorder.Write(frame)
		}
	}
}

// monitor samples the volume each tick and runs a cycle on onset
func (c *Controller) monitor(r *run) {
	c.mu.Lock()
	interval := c.cfg.PollInterval()
	threshold := c.cfg.Detection.Threshold
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		level := r.meter.Level()
		c.volume.Store(level)

		if level > threshold && c.beginCycle(r) {
			slog.Debug("Onset detected", "level", level, "threshold", threshold)
			c.publish()
			c.runCycle(r)
			// Readings taken before the cycle must not trigger the next one
			ticker.Reset(interval)
			continue
		}
		c.publish()
	}
}

// beginCycle moves LISTENING → RECORDING for the given session
func (c *Controller) beginCycle(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != r || c.state != StateListening {
		return false
	}
	c.state = StateRecording
	c.status = StatusRecording
	c.cycles++
	c.touch()
	return true
}

func (c *Controller) runCycle(r *run) {
	c.mu.Lock()
	duration := c.cfg.RecordingDuration()
	grace := c.stallGrace
	classifier := c.classifier
	c.mu.Unlock()

	rec, err := r.recorder.Start(r.stream.SampleRate(), duration)
	if err != nil {
		slog.Warn("Failed to start recording", "error", err)
		c.recordFailed(r, MsgRecordFailed)
		return
	}

	clip, err := rec.Wait(r.ctx, duration+grace)
	if err != nil {
		switch {
		case r.ctx.Err() != nil:
		case errors.Is(err, audio.ErrStreamClosed):
			// the pump tears the session down
		case errors.Is(err, audio.ErrRecordingStalled):
			slog.Warn("Recording stalled", "duration", duration, "grace", grace)
			c.recordFailed(r, MsgRecordStalled)
		default:
			slog.Warn("Recording failed", "error", err)
			c.recordFailed(r, MsgRecordFailed)
		}
		return
	}

	c.mu.Lock()
	if c.current != r || c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateAnalyzing
	c.status = StatusAnalyzing
	c.errMsg = ""
	c.touch()
	c.mu.Unlock()
	c.publish()

	slog.Debug("Clip recorded", "id", clip.ID, "samples", len(clip.Samples), "duration", clip.Duration())

	label, err := classifier.Classify(r.ctx, clip)
	clip.Release()
	c.finishCycle(r, label, err)
}

// recordFailed reports a recording error and re-arms the monitor
func (c *Controller) recordFailed(r *run, msg string) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	c.status = StatusListening
	c.errMsg = msg
	c.touch()
	c.mu.Unlock()
	c.publish()
}

// finishCycle applies a classification result unless the session has gone
func (c *Controller) finishCycle(r *run, label string, err error) {
	c.mu.Lock()
	if c.current != r || r.ctx.Err() != nil {
		c.mu.Unlock()
		slog.Debug("Discarding result from stopped session", "label", label, "error", err)
		return
	}

	if err != nil {
		c.errMsg, c.status = classifyErrorMessage(err)
		slog.Warn("Chord analysis failed", "error", err)
	} else {
		c.chord = label
		c.errMsg = ""
		c.status = StatusDetected
		slog.Info("Chord detected", "chord", label)
	}
	c.state = StateListening
	c.touch()
	c.mu.Unlock()
	c.publish()
}

func openErrorMessage(err error) string {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return MsgPermissionDenied
	}
	return fmt.Sprintf("Microphone unavailable: %v", err)
}

// classifyErrorMessage returns the error and status lines for a failed upload
func classifyErrorMessage(err error) (string, string) {
	var serverErr *predict.ServerError
	switch {
	case errors.As(err, &serverErr):
		return serverErr.Message, StatusAnalysisFailed
	case errors.Is(err, predict.ErrMalformedResponse):
		return MsgMalformed, StatusAnalysisFailed
	default:
		return MsgConnectFailed, StatusConnectFailed
	}
}
