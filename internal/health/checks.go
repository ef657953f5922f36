package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"grimm.is/mudgate/internal/clock"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/pipeline"
	"grimm.is/mudgate/internal/state"
)

// CheckWritable reports unhealthy when files cannot be created in dir.
func CheckWritable(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return Check{Status: StatusHealthy, Message: filepath.Clean(dir) + " writable"}
	}
}

// CheckBinary reports unhealthy when name cannot be found on PATH.
func CheckBinary(name string) CheckFunc {
	return func(ctx context.Context) Check {
		path, err := exec.LookPath(name)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: path}
	}
}

// CheckRuns inspects the last recorded run of each device. A device whose
// last run failed, or that has never run, degrades the report.
func CheckRuns(runs *state.RunBucket, devices []string) CheckFunc {
	return func(ctx context.Context) Check {
		var failed, pending []string
		for _, d := range devices {
			rec, err := runs.Get(d)
			if err != nil {
				pending = append(pending, d)
				continue
			}
			if !rec.Succeeded() {
				failed = append(failed, d+" ("+rec.ErrorKind+")")
			}
		}

		var msg []string
		if len(failed) > 0 {
			msg = append(msg, "failing: "+strings.Join(failed, ", "))
		}
		if len(pending) > 0 {
			msg = append(msg, "not yet run: "+strings.Join(pending, ", "))
		}
		if len(msg) > 0 {
			return Check{Status: StatusDegraded, Message: strings.Join(msg, "; ")}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d devices enforced", len(devices))}
	}
}

// LoadedSource reports rule counts observed in the kernel.
// *metrics.Collector implements it.
type LoadedSource interface {
	GetLoaded(chain string) (int, bool)
	GetLastUpdate() time.Time
}

// CheckLoaded compares the kernel's loaded rule counts with the last
// enforced run of each device. Chains holding fewer rules than were
// generated, or counts older than stale, degrade the report.
func CheckLoaded(src LoadedSource, runs *state.RunBucket, devices []string, stale time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		updated := src.GetLastUpdate()
		if updated.IsZero() {
			return Check{Status: StatusDegraded, Message: "rule counts not collected yet"}
		}
		if age := clock.Since(updated); stale > 0 && age > stale {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("rule counts are %s old", age.Round(time.Second))}
		}

		var drifted []string
		for _, d := range devices {
			rec, err := runs.Get(d)
			if err != nil || !rec.Succeeded() || !rec.Enforced {
				continue
			}
			outChain, inChain := firewall.ChainNames(d)
			out, _ := src.GetLoaded(outChain)
			in, _ := src.GetLoaded(inChain)
			if out < rec.Outbound || in < rec.Inbound {
				drifted = append(drifted, fmt.Sprintf("%s (%d/%d of %d/%d)", d, out, in, rec.Outbound, rec.Inbound))
			}
		}
		if len(drifted) > 0 {
			return Check{Status: StatusDegraded, Message: "rules missing: " + strings.Join(drifted, ", ")}
		}
		return Check{Status: StatusHealthy, Message: "loaded rules match last runs"}
	}
}

// CheckSchedule degrades the report when a device is more than grace past
// its next scheduled run.
func CheckSchedule(status func() []pipeline.WatchStatus, grace time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		now := clock.Now()
		var late []string
		for _, s := range status() {
			if !s.NextRun.IsZero() && now.Sub(s.NextRun) > grace {
				late = append(late, s.Device)
			}
		}
		if len(late) > 0 {
			return Check{Status: StatusDegraded, Message: "overdue: " + strings.Join(late, ", ")}
		}
		return Check{Status: StatusHealthy, Message: "schedule on time"}
	}
}
