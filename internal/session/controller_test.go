package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/predict"
)

const (
	waitFor = 3 * time.Second
	tick    = 2 * time.Millisecond
)

// fakeStream emits silent frames every millisecond while feeding is on
type fakeStream struct {
	frames    chan []float32
	rate      int
	feeding   *atomic.Bool
	quit      chan struct{}
	lost      chan struct{}
	closed    *atomic.Bool
	closeOnce sync.Once
	loseOnce  sync.Once
}

func newFakeStream(rate int) *fakeStream {
	s := &fakeStream{
		frames:  make(chan []float32),
		rate:    rate,
		feeding: atomic.NewBool(true),
		quit:    make(chan struct{}),
		lost:    make(chan struct{}),
		closed:  atomic.NewBool(false),
	}
	go s.generate()
	return s
}

func (s *fakeStream) generate() {
	defer close(s.frames)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.lost:
			return
		case <-ticker.C:
		}
		if !s.feeding.Load() {
			continue
		}
		select {
		case s.frames <- make([]float32, 100):
		case <-s.quit:
			return
		case <-s.lost:
			return
		}
	}
}

func (s *fakeStream) Frames() <-chan []float32 { return s.frames }
func (s *fakeStream) SampleRate() int          { return s.rate }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
	})
	return nil
}

func (s *fakeStream) lose() {
	s.loseOnce.Do(func() { close(s.lost) })
}

type fakeBackend struct {
	mu      sync.Mutex
	openErr error
	streams []*fakeStream
	paused  bool
}

func (b *fakeBackend) Open(ctx context.Context, opts audio.StreamOptions) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := newFakeStream(opts.SampleRate)
	if b.paused {
		s.feeding.Store(false)
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) ListSources() ([]string, error)    { return nil, nil }
func (b *fakeBackend) ValidateSource(source string) error { return nil }
func (b *fakeBackend) GetType() audio.BackendType         { return "fake" }

func (b *fakeBackend) last() *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[len(b.streams)-1]
}

// scriptedMeter returns readings in order, then rest forever
type scriptedMeter struct {
	mu       sync.Mutex
	readings []float64
	rest     float64
	calls    int
}

func (m *scriptedMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= len(m.readings) {
		return m.readings[m.calls-1]
	}
	return m.rest
}

func (m *scriptedMeter) set(rest float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rest = rest
}

func (m *scriptedMeter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingClassifier records clips and answers with fn
type recordingClassifier struct {
	mu    sync.Mutex
	clips []*audio.Clip
	lens  []int
	fn    func(ctx context.Context) (string, error)
}

func (rc *recordingClassifier) Classify(ctx context.Context, clip *audio.Clip) (string, error) {
	rc.mu.Lock()
	rc.clips = append(rc.clips, clip)
	rc.lens = append(rc.lens, len(clip.Samples))
	fn := rc.fn
	rc.mu.Unlock()
	return fn(ctx)
}

func (rc *recordingClassifier) calls() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.clips)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = 1000
	cfg.Detection.PollIntervalMs = 1
	cfg.Detection.Threshold = 0.02
	cfg.Detection.RecordingDurationMs = 3000
	return cfg
}

func answer(label string, err error) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return label, err }
}

func stateIs(c *Controller, want State) func() bool {
	return func() bool { return c.Snapshot().State == want }
}

func TestStart_PermissionDenied(t *testing.T) {
	backend := &fakeBackend{openErr: audio.ErrPermissionDenied}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, audio.ErrPermissionDenied))

	snap := c.Snapshot()
	assert.Equal(t, StateNotListening, snap.State)
	assert.Equal(t, MsgPermissionDenied, snap.Error)
	assert.Equal(t, StatusIdle, snap.Status)
}

func TestStart_DeviceUnavailable(t *testing.T) {
	backend := &fakeBackend{openErr: audio.ErrDeviceUnavailable}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)})

	require.Error(t, c.Start(context.Background()))
	snap := c.Snapshot()
	assert.Equal(t, StateNotListening, snap.State)
	assert.Contains(t, snap.Error, "Microphone unavailable")
}

func TestStart_ClearsPreviousError(t *testing.T) {
	backend := &fakeBackend{openErr: audio.ErrPermissionDenied}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))
	require.Error(t, c.Start(context.Background()))

	backend.openErr = nil
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	snap := c.Snapshot()
	assert.Equal(t, StateListening, snap.State)
	assert.Equal(t, StatusListening, snap.Status)
	assert.Empty(t, snap.Error)
}

func TestBelowThreshold_NoCycle(t *testing.T) {
	meter := &scriptedMeter{rest: 0.02}
	classifier := &recordingClassifier{fn: answer("C", nil)}
	c := New(testConfig(), &fakeBackend{}, classifier, WithMeter(meter))

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return meter.count() > 50 }, waitFor, tick)

	snap := c.Snapshot()
	assert.Equal(t, StateListening, snap.State)
	assert.Equal(t, 0, snap.Cycles)
	assert.Equal(t, 0, classifier.calls())
	assert.InDelta(t, 0.02, snap.Volume, 1e-9)
}

func TestOnset_SecondReadingStartsCycle(t *testing.T) {
	meter := &scriptedMeter{readings: []float64{0.01, 0.03}}
	var readsAtUpload int
	classifier := &recordingClassifier{}
	classifier.fn = func(ctx context.Context) (string, error) {
		readsAtUpload = meter.count()
		return "G major", nil
	}

	c := New(testConfig(), &fakeBackend{}, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Chord != "" }, waitFor, tick)

	assert.Equal(t, 2, readsAtUpload, "no readings are taken while the cycle runs")
	require.Equal(t, 1, classifier.calls())
	assert.Equal(t, 3000, classifier.lens[0])
	assert.Equal(t, 3*time.Second, time.Duration(classifier.lens[0])*time.Second/1000)

	snap := c.Snapshot()
	assert.Equal(t, "G major", snap.Chord)
	assert.Equal(t, StatusDetected, snap.Status)
	assert.Empty(t, snap.Error)
	assert.Equal(t, StateListening, snap.State)
	assert.Equal(t, 1, snap.Cycles)
}

func TestClipLength_IndependentOfAmplitude(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.RecordingDurationMs = 500

	// loud for the onset then silent for the rest of the window
	meter := &scriptedMeter{readings: []float64{0.9}}
	classifier := &recordingClassifier{fn: answer("A minor", nil)}
	c := New(cfg, &fakeBackend{}, classifier, WithMeter(meter))

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Chord == "A minor" }, waitFor, tick)
	require.Equal(t, 1, classifier.calls())
	assert.Equal(t, 500, classifier.lens[0])
	assert.Nil(t, classifier.clips[0].Samples, "clip is released after upload")
}

func TestServerError_MonitoringResumes(t *testing.T) {
	meter := &scriptedMeter{readings: []float64{0.5}}
	classifier := &recordingClassifier{fn: answer("", &predict.ServerError{StatusCode: 500, Message: "bad audio"})}
	c := New(testConfig(), &fakeBackend{}, classifier, WithMeter(meter))

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Error != "" }, waitFor, tick)

	snap := c.Snapshot()
	assert.Equal(t, "bad audio", snap.Error)
	assert.Equal(t, StatusAnalysisFailed, snap.Status)
	assert.Equal(t, StateListening, snap.State)

	// monitoring resumed: the meter is read again after the cycle
	before := meter.count()
	require.Eventually(t, func() bool { return meter.count() > before+5 }, waitFor, tick)
}

func TestClassifyErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		msg    string
		status string
	}{
		{"malformed", predict.ErrMalformedResponse, MsgMalformed, StatusAnalysisFailed},
		{"transport", &predict.TransportError{Err: errors.New("connection refused")}, MsgConnectFailed, StatusConnectFailed},
		{"server", &predict.ServerError{StatusCode: 400, Message: "No selected file"}, "No selected file", StatusAnalysisFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, status := classifyErrorMessage(tc.err)
			assert.Equal(t, tc.msg, msg)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestSuccessClearsError(t *testing.T) {
	meter := &scriptedMeter{readings: []float64{0.5}}
	var n atomic.Int32
	classifier := &recordingClassifier{}
	classifier.fn = func(ctx context.Context) (string, error) {
		if n.Inc() == 1 {
			return "", &predict.TransportError{Err: errors.New("refused")}
		}
		return "D major", nil
	}

	c := New(testConfig(), &fakeBackend{}, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Error == MsgConnectFailed }, waitFor, tick)
	meter.set(0.5)

	require.Eventually(t, func() bool { return c.Snapshot().Chord == "D major" }, waitFor, tick)
	assert.Empty(t, c.Snapshot().Error)
}

func TestSingleCycleAtATime(t *testing.T) {
	meter := &scriptedMeter{rest: 0.8}
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32

	classifier := &recordingClassifier{}
	classifier.fn = func(ctx context.Context) (string, error) {
		cur := inFlight.Inc()
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CAS(prev, cur) {
				break
			}
		}
		defer inFlight.Dec()
		select {
		case <-release:
			return "E minor", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	cfg := testConfig()
	cfg.Detection.RecordingDurationMs = 100
	c := New(cfg, &fakeBackend{}, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, stateIs(c, StateAnalyzing), waitFor, tick)

	// loud readings while analyzing must not start another cycle
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.Snapshot().Cycles)
	assert.Equal(t, StateAnalyzing, c.Snapshot().State)

	close(release)
	require.Eventually(t, func() bool { return c.Snapshot().Cycles >= 3 }, waitFor, tick)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestStop_DuringAnalysis(t *testing.T) {
	meter := &scriptedMeter{readings: []float64{0.5}}
	classifier := &recordingClassifier{}
	classifier.fn = func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "F major", nil
	}

	backend := &fakeBackend{}
	cfg := testConfig()
	cfg.Detection.RecordingDurationMs = 100
	c := New(cfg, backend, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, stateIs(c, StateAnalyzing), waitFor, tick)

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop did not return while a cycle was in flight")
	}

	snap := c.Snapshot()
	assert.Equal(t, StateNotListening, snap.State)
	assert.Empty(t, snap.Chord, "result from a stopped session is discarded")
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Zero(t, snap.Volume)
	assert.True(t, backend.last().closed.Load())

	calls := meter.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, meter.count(), "polling halts after Stop")
}

func TestStop_DuringRecording(t *testing.T) {
	meter := &scriptedMeter{readings: []float64{0.5}}
	classifier := &recordingClassifier{fn: answer("C", nil)}
	backend := &fakeBackend{paused: true}

	c := New(testConfig(), backend, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, stateIs(c, StateRecording), waitFor, tick)
	require.NoError(t, c.Stop())

	assert.Equal(t, StateNotListening, c.Snapshot().State)
	assert.Equal(t, 0, classifier.calls())
	assert.True(t, backend.last().closed.Load())
}

func TestRecordingStall_ReArms(t *testing.T) {
	meter := &scriptedMeter{rest: 0.5}
	classifier := &recordingClassifier{fn: answer("C", nil)}
	backend := &fakeBackend{paused: true}

	cfg := testConfig()
	cfg.Detection.RecordingDurationMs = 20
	c := New(cfg, backend, classifier, WithMeter(meter), WithStallGrace(10*time.Millisecond))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Error == MsgRecordStalled }, waitFor, tick)
	require.Eventually(t, func() bool { return c.Snapshot().Cycles >= 2 }, waitFor, tick, "monitor re-arms after a failed recording")
	assert.Equal(t, 0, classifier.calls())
}

func TestRecorderStartFailure_ReArms(t *testing.T) {
	meter := &scriptedMeter{rest: 0.5}
	classifier := &recordingClassifier{fn: answer("C", nil)}

	// a zero sample rate gives the recorder nothing to record
	cfg := testConfig()
	cfg.Audio.SampleRate = 0
	c := New(cfg, &fakeBackend{}, classifier, WithMeter(meter))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Snapshot().Error == MsgRecordFailed }, waitFor, tick)
	require.Eventually(t, func() bool { return c.Snapshot().Cycles >= 2 }, waitFor, tick, "monitor re-arms after the recorder refuses to start")
	assert.True(t, c.Snapshot().Listening())
	assert.Equal(t, 0, classifier.calls())
}

func TestInputLost_StopsSession(t *testing.T) {
	backend := &fakeBackend{}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))
	require.NoError(t, c.Start(context.Background()))

	backend.last().lose()

	require.Eventually(t, stateIs(c, StateNotListening), waitFor, tick)
	assert.Equal(t, MsgInputLost, c.Snapshot().Error)
}

func TestToggle(t *testing.T) {
	c := New(testConfig(), &fakeBackend{}, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))

	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, StateListening, c.Snapshot().State)

	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, StateNotListening, c.Snapshot().State)
}

func TestToggle_Concurrent(t *testing.T) {
	backend := &fakeBackend{}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Toggle(context.Background()))
		}()
	}
	wg.Wait()

	// one toggle starts, the other stops
	assert.Equal(t, StateNotListening, c.Snapshot().State)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.streams, 1)
	assert.True(t, backend.streams[0].closed.Load())
}

func TestStartTwice_SingleStream(t *testing.T) {
	backend := &fakeBackend{}
	c := New(testConfig(), backend, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Len(t, backend.streams, 1)
}

func TestReconfigure_OnlyWhenIdle(t *testing.T) {
	c := New(testConfig(), &fakeBackend{}, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))
	require.NoError(t, c.Start(context.Background()))

	cfg := testConfig()
	cfg.Detection.Threshold = 0.5
	assert.ErrorIs(t, c.Reconfigure(cfg, &fakeBackend{}, nil), ErrBusy)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Reconfigure(cfg, &fakeBackend{}, &recordingClassifier{fn: answer("C", nil)}))
	assert.Equal(t, 0.5, c.Snapshot().Threshold)
}

func TestSubscribe_ReceivesLatest(t *testing.T) {
	c := New(testConfig(), &fakeBackend{}, &recordingClassifier{fn: answer("C", nil)}, WithMeter(&scriptedMeter{}))

	updates, cancel := c.Subscribe()
	defer cancel()

	first := <-updates
	assert.Equal(t, StateNotListening, first.State)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return snap.State == StateListening
		default:
			return false
		}
	}, waitFor, tick)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	c := New(testConfig(), &fakeBackend{}, nil)
	updates, cancel := c.Subscribe()
	<-updates
	cancel()
	cancel()

	_, ok := <-updates
	assert.False(t, ok)
}

func TestSnapshotHint(t *testing.T) {
	assert.Equal(t, "Play louder", Snapshot{Volume: 0.01, Threshold: 0.02}.Hint())
	assert.Equal(t, "Play louder", Snapshot{Volume: 0.02, Threshold: 0.02}.Hint())
	assert.Equal(t, "Recording ready", Snapshot{Volume: 0.03, Threshold: 0.02}.Hint())
}
