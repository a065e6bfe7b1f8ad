package audio

import (
	"context"
	"fmt"
	"os/exec"
)

// PipeWireBackend implements the Backend interface with pw-record
type PipeWireBackend struct{}

// Open starts a pw-record capture process
func (p *PipeWireBackend) Open(ctx context.Context, opts StreamOptions) (Stream, error) {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return nil, fmt.Errorf("%w: pw-record not found in PATH", ErrDeviceUnavailable)
	}
	return startPipeWireStream(ctx, opts)
}

// ListSources returns available PipeWire capture nodes
func (p *PipeWireBackend) ListSources() ([]string, error) {
	return NewPipeWire().ListNodes()
}

// ValidateSource validates a PipeWire capture node
func (p *PipeWireBackend) ValidateSource(source string) error {
	if source == "" {
		return nil
	}
	return NewPipeWire().ValidateNode(source)
}

// GetType returns the backend type
func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}
