//go:build linux
// +build linux

package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Run executes a command, folding its combined output into the error.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, bytes.TrimSpace(out))
	}
	return nil
}

// Output executes a command and returns its standard output.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
