package session

import (
	"context"
	"time"

	"github.com/audiolibrelab/chordwatch/internal/audio"
)

// State is the controller's position in the listen/record/analyze cycle
type State string

const (
	StateNotListening State = "NOT_LISTENING"
	StateListening    State = "LISTENING"
	StateRecording    State = "RECORDING"
	StateAnalyzing    State = "ANALYZING"
)

// Active reports whether a capture session exists in this state
func (s State) Active() bool {
	return s != StateNotListening
}

// Status lines shown to the user
const (
	StatusIdle           = "Click to start listening"
	StatusListening      = "Listening for chords..."
	StatusRecording      = "Recording chord..."
	StatusAnalyzing      = "Analyzing chord..."
	StatusDetected       = "Chord detected! Ready for next..."
	StatusAnalysisFailed = "Analysis failed – listening continues..."
	StatusConnectFailed  = "Connection failed – listening continues..."
)

// Error messages shown to the user
const (
	MsgPermissionDenied = "Microphone access denied. Please allow microphone permissions."
	MsgRecordFailed     = "Failed to start recording"
	MsgRecordStalled    = "Recording stalled"
	MsgMalformed        = "Malformed response from server"
	MsgConnectFailed    = "Failed to connect to server"
	MsgInputLost        = "Audio input lost"
)

// Snapshot is a consistent view of the controller used for rendering
type Snapshot struct {
	State     State     `json:"state"`
	Volume    float64   `json:"volume"`
	Threshold float64   `json:"threshold"`
	Chord     string    `json:"chord"`
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Cycles    int       `json:"cycles"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Listening reports whether a session is running
func (s Snapshot) Listening() bool {
	return s.State.Active()
}

// Recording reports whether a clip is being captured
func (s Snapshot) Recording() bool {
	return s.State == StateRecording
}

// AboveThreshold reports whether the last reading would trigger a recording
func (s Snapshot) AboveThreshold() bool {
	return s.Volume > s.Threshold
}

// Hint is the short label shown next to the level meter
func (s Snapshot) Hint() string {
	if s.AboveThreshold() {
		return "Recording ready"
	}
	return "Play louder"
}

// Classifier turns a clip into a chord label
type Classifier interface {
	Classify(ctx context.Context, clip *audio.Clip) (string, error)
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(ctx context.Context, clip *audio.Clip) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, clip *audio.Clip) (string, error) {
	return f(ctx, clip)
}

// Meter supplies the normalized volume reading for each monitor tick
type Meter interface {
	Level() float64
}
