package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"grimm.is/mudgate/internal/clock"
	"grimm.is/mudgate/internal/logging"
	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/state"
)

// Bounds applied to a document's cache-validity when scheduling refreshes.
const (
	MinRefresh = time.Hour
	MaxRefresh = 168 * time.Hour
)

// DeviceRunner runs one device. *Runner implements it.
type DeviceRunner interface {
	Run(ctx context.Context, device string) (*Report, error)
}

// Schedule controls when devices are run again.
type Schedule struct {
	// Refresh, if positive, replaces the document's cache-validity.
	Refresh time.Duration
	// Retry is the delay after a failed run.
	Retry time.Duration
}

// NextRun returns the delay before the device should run again.
func (s Schedule) NextRun(rep *Report, err error) time.Duration {
	if err != nil || rep == nil {
		return s.Retry
	}
	if s.Refresh > 0 {
		return s.Refresh
	}
	if rep.Document == nil {
		return ClampRefresh(mud.DefaultCacheValidity * time.Hour)
	}
	return ClampRefresh(rep.Document.CacheValidityDuration())
}

// ClampRefresh bounds d to MinRefresh..MaxRefresh.
func ClampRefresh(d time.Duration) time.Duration {
	switch {
	case d < MinRefresh:
		return MinRefresh
	case d > MaxRefresh:
		return MaxRefresh
	}
	return d
}

// WatchStatus is the scheduling state of one device.
type WatchStatus struct {
	Device    string    `json:"device"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int64     `json:"run_count"`
}

// Watcher runs devices repeatedly from a single goroutine.
type Watcher struct {
	runner   DeviceRunner
	schedule Schedule
	history  *state.RunBucket
	clock    clock.Clock
	logger   *logging.Logger

	// OnRun, if set, is called after every run from the watch goroutine.
	OnRun func(device string, rep *Report, err error)

	mu      sync.Mutex
	entries map[string]*WatchStatus
}

// NewWatcher creates a watcher for devices. history, if non-nil, is used
// to resume schedules from the previous process.
func NewWatcher(runner DeviceRunner, devices []string, schedule Schedule, history *state.RunBucket) *Watcher {
	if schedule.Retry <= 0 {
		schedule.Retry = time.Minute
	}
	w := &Watcher{
		runner:   runner,
		schedule: schedule,
		history:  history,
		clock:    clock.Default(),
		logger:   logging.WithComponent("watch"),
		entries:  make(map[string]*WatchStatus, len(devices)),
	}
	for _, d := range devices {
		w.entries[d] = &WatchStatus{Device: d}
	}
	return w
}

// resume schedules devices whose last successful run is still fresh.
func (w *Watcher) resume(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		e.NextRun = now
		if w.history == nil {
			continue
		}
		rec, err := w.history.Get(e.Device)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				w.logger.Warn("failed to read run history", "device", e.Device, "error", err)
			}
			continue
		}
		if !rec.Succeeded() || !rec.Enforced {
			continue
		}
		next := w.schedule.Refresh
		if next <= 0 {
			next = ClampRefresh(time.Duration(rec.CacheValidity) * time.Hour)
		}
		if due := rec.FinishedAt.Add(next); due.After(now) {
			e.NextRun = due
			e.LastRun = rec.StartedAt
			w.logger.Info("resuming schedule", "device", e.Device, "next_run", due)
		}
	}
}

// Run schedules devices until ctx is cancelled. Runs never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	w.resume(w.clock.Now())
	w.logger.Info("watch started", "devices", len(w.entries))

	if len(w.entries) == 0 {
		<-ctx.Done()
		w.logger.Info("watch stopped")
		return nil
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := w.clock.Now()
		for _, dev := range w.due(now) {
			if ctx.Err() != nil {
				break
			}
			w.runOne(ctx, dev)
		}

		if err := ctx.Err(); err != nil {
			w.logger.Info("watch stopped")
			return nil
		}

		timer.Reset(w.clock.Until(w.earliest()))
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (w *Watcher) runOne(ctx context.Context, device string) {
	start := w.clock.Now()
	rep, err := w.runner.Run(ctx, device)

	w.mu.Lock()
	e := w.entries[device]
	e.LastRun = start
	e.RunCount++
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
	delay := w.schedule.NextRun(rep, err)
	e.NextRun = w.clock.Now().Add(delay)
	next := e.NextRun
	w.mu.Unlock()
	w.logger.Debug("device scheduled", "device", device, "next_run", next, "in", delay)

	if w.OnRun != nil {
		w.OnRun(device, rep, err)
	}
}

// due returns the devices whose next run is at or before now, in name order.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for name, e := range w.entries {
		if !e.NextRun.After(now) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) earliest() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first time.Time
	for _, e := range w.entries {
		if first.IsZero() || e.NextRun.Before(first) {
			first = e.NextRun
		}
	}
	return first
}

// Status returns the scheduling state of every device. It is safe to call
// while Run is active.
func (w *Watcher) Status() []WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WatchStatus, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
