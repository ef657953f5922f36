package testutil

import (
	"os"
	"testing"
)

// RequireHost skips the test unless MUDGATE_HOST_TEST is set. Tests that load
// rules into the real iptables need root and a disposable network namespace.
func RequireHost(t *testing.T) {
	t.Helper()
	if os.Getenv("MUDGATE_HOST_TEST") == "" {
		t.Skip("Skipping test: requires MUDGATE_HOST_TEST environment")
	}
}
