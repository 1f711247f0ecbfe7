//go:build !linux

package sandbox

import (
	"errors"

	"go.uber.org/zap"
)

// LocalRuntime is only available on linux.
type LocalRuntime struct {
	Runtime
}

// NewLocalRuntime reports that the local backend is unsupported here.
func NewLocalRuntime(_ *zap.Logger, _ string) (*LocalRuntime, error) {
	return nil, errors.New("local sandbox backend requires linux")
}

// Close is a no-op.
func (*LocalRuntime) Close() error {
	return nil
}
