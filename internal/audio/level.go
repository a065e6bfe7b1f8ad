package audio

import (
	"math"
	"sync"
)

// DecibelFloor is the level that maps to a normalized reading of 0
const DecibelFloor = -100.0

// RMS returns the root mean square of the samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Decibels converts a linear amplitude to dBFS, clamped at DecibelFloor
func Decibels(rms float64) float64 {
	if rms <= 0 {
		return DecibelFloor
	}
	db := 20 * math.Log10(rms)
	if db < DecibelFloor {
		return DecibelFloor
	}
	return db
}

// Normalize maps a dBFS value linearly from [DecibelFloor, 0] onto [0, 1]
func Normalize(db float64) float64 {
	v := (db - DecibelFloor) / -DecibelFloor
	return math.Max(0, math.Min(1, v))
}

// Level returns the normalized volume reading for a block of samples
func Level(samples []float32) float64 {
	return Normalize(Decibels(RMS(samples)))
}

// Analyser is an amplitude tap holding the most recent window of samples
type Analyser struct {
	mu     sync.Mutex
	window []float32
	pos    int
	filled bool
}

// NewAnalyser creates an analyser over the last size samples
func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = 256
	}
	return &Analyser{window: make([]float32, size)}
}

// Write pushes samples into the window, overwriting the oldest
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.window)
	if len(samples) >= n {
		copy(a.window, samples[len(samples)-n:])
		a.pos = 0
		a.filled = true
		return
	}
	for _, s := range samples {
		a.window[a.pos] = s
		a.pos++
		if a.pos == n {
			a.pos = 0
			a.filled = true
		}
	}
}

// Level returns the normalized volume of the current window
func (a *Analyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.filled {
		return Level(a.window)
	}
	return Level(a.window[:a.pos])
}

// Reset clears the window
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.window {
		a.window[i] = 0
	}
	a.pos = 0
	a.filled = false
}
