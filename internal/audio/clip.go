package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clip is a fixed-length mono recording handed to the classifier
type Clip struct {
	ID         string
	StartedAt  time.Time
	SampleRate int
	Samples    []float32
}

// Duration returns the length of the recorded audio
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Release drops the sample buffer once the clip has been consumed
func (c *Clip) Release() {
	c.Samples = nil
}

// SamplesFor returns how many samples a clip of duration d holds at rate
func SamplesFor(rate int, d time.Duration) int {
	return int(int64(rate) * d.Milliseconds() / 1000)
}

// ClipRecorder taps a capture stream and fills at most one clip at a time
type ClipRecorder struct {
	mu     sync.Mutex
	active *Recording
	closed bool
}

// Recording is a clip being filled by a ClipRecorder
type Recording struct {
	recorder *ClipRecorder
	clip     *Clip
	want     int
	done     chan struct{}
	err      error
}

var errRecordingBusy = errors.New("a recording is already in progress")

// NewClipRecorder creates an idle recorder
func NewClipRecorder() *ClipRecorder {
	return &ClipRecorder{}
}

// Start begins a clip of the given duration at the stream's sample rate
func (r *ClipRecorder) Start(sampleRate int, duration time.Duration) (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStreamClosed
	}
	if r.active != nil {
		return nil, errRecordingBusy
	}

	want := SamplesFor(sampleRate, duration)
	if want <= 0 {
		return nil, fmt.Errorf("invalid clip length: %v at %d Hz", duration, sampleRate)
	}

	rec := &Recording{
		recorder: r,
		clip: &Clip{
			ID:         uuid.NewString(),
			StartedAt:  time.Now(),
			SampleRate: sampleRate,
			Samples:    make([]float32, 0, want),
		},
		want: want,
		done: make(chan struct{}),
	}
	r.active = rec
	return rec, nil
}

// Write feeds captured samples into the active clip, if any
func (r *ClipRecorder) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.active
	if rec == nil {
		return
	}

	need := rec.want - len(rec.clip.Samples)
	if len(samples) > need {
		samples = samples[:need]
	}
	rec.clip.Samples = append(rec.clip.Samples, samples...)

	if len(rec.clip.Samples) == rec.want {
		r.finishLocked(rec, nil)
	}
}

// Close aborts any active clip and rejects new ones
func (r *ClipRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.active != nil {
		r.finishLocked(r.active, ErrStreamClosed)
	}
}

// Active reports whether a clip is being filled
func (r *ClipRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *ClipRecorder) finishLocked(rec *Recording, err error) {
	if r.active != rec {
		return
	}
	r.active = nil
	rec.err = err
	close(rec.done)
}

func (r *ClipRecorder) abort(rec *Recording, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(rec, err)
}

// Wait blocks until the clip is full, the stream ends, ctx is cancelled or
// the deadline passes.
func (rec *Recording) Wait(ctx context.Context, deadline time.Duration) (*Clip, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-rec.done:
	case <-ctx.Done():
		rec.recorder.abort(rec, ctx.Err())
		<-rec.done
	case <-timer.C:
		rec.recorder.abort(rec, ErrRecordingStalled)
		<-rec.done
	}

	if rec.err != nil {
		return nil, rec.err
	}
	return rec.clip, nil
}
