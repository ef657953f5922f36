//go:build !linux
// +build !linux

package firewall

import (
	"context"
	"errors"
)

var errUnsupportedPlatform = errors.New("rule enforcement requires linux")

// Run is not supported on this platform.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	return errUnsupportedPlatform
}

// Output is not supported on this platform.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, errUnsupportedPlatform
}
