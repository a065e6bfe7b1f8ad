package cmd

import (
	"testing"

	"github.com/audiolibrelab/chordwatch/internal/session"
)

func TestDescribeChange(t *testing.T) {
	listening := session.Snapshot{State: session.StateListening, Status: session.StatusListening, Volume: 0.01}

	if _, changed := describeChange(listening, session.Snapshot{State: session.StateListening, Status: session.StatusListening, Volume: 0.5}); changed {
		t.Error("Expected volume-only change to be ignored")
	}

	detected := session.Snapshot{State: session.StateListening, Status: session.StatusDetected, Chord: "G major", Cycles: 1}
	analyzing := session.Snapshot{State: session.StateAnalyzing, Status: session.StatusAnalyzing, Cycles: 1}
	line, changed := describeChange(analyzing, detected)
	if !changed || line != "🎸 G major" {
		t.Errorf("Expected chord line, got %q (changed=%v)", line, changed)
	}

	failed := session.Snapshot{State: session.StateListening, Status: session.StatusAnalysisFailed, Error: "bad audio", Cycles: 2}
	line, changed = describeChange(analyzing, failed)
	if !changed || line != "✗ bad audio ("+session.StatusAnalysisFailed+")" {
		t.Errorf("Expected error line, got %q (changed=%v)", line, changed)
	}

	recording := session.Snapshot{State: session.StateRecording, Status: session.StatusRecording, Cycles: 2}
	line, changed = describeChange(listening, recording)
	if !changed || line != "… "+session.StatusRecording {
		t.Errorf("Expected status line, got %q (changed=%v)", line, changed)
	}
}
