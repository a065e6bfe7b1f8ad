//go:build !cgo

package audio

import (
	"context"
	"errors"
	"fmt"
)

const malgoAvailable = false

var errMalgoDisabled = errors.New("malgo backend requires a cgo build")

// MalgoBackend is unavailable without cgo
type MalgoBackend struct{}

func (m *MalgoBackend) Open(ctx context.Context, opts StreamOptions) (Stream, error) {
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, errMalgoDisabled)
}

func (m *MalgoBackend) ListSources() ([]string, error) {
	return nil, errMalgoDisabled
}

func (m *MalgoBackend) ValidateSource(source string) error {
	return errMalgoDisabled
}

func (m *MalgoBackend) GetType() BackendType {
	return BackendTypeMalgo
}
