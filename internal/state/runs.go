package state

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// BucketRuns holds the most recent pipeline run per device.
const BucketRuns = "runs"

// RunRetention is how long a run record survives without a newer run.
const RunRetention = 30 * 24 * time.Hour

// RunRecord is the persisted outcome of one pipeline run.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Device       string    `json:"device"`
	URL          string    `json:"url"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Verdict      string    `json:"verdict,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Outbound     int       `json:"outbound"`
	Inbound      int       `json:"inbound"`
	Skipped      int       `json:"skipped"`
	ScriptPath   string    `json:"script_path,omitempty"`
	ScriptSHA256 string    `json:"script_sha256,omitempty"`
	Enforced     bool      `json:"enforced"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`

	// CacheValidity is the document's cache-validity in hours, zero when
	// the run failed before a document was built.
	CacheValidity int `json:"cache_validity,omitempty"`
}

// Succeeded reports whether the run finished without error.
func (r RunRecord) Succeeded() bool {
	return r.Error == ""
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunBucket provides typed access to run history.
type RunBucket struct {
	store Store
}

// NewRunBucket creates the runs bucket if needed.
func NewRunBucket(store Store) (*RunBucket, error) {
	if err := store.CreateBucket(BucketRuns); err != nil && !errors.Is(err, ErrBucketExists) {
		return nil, fmt.Errorf("create %s bucket: %w", BucketRuns, err)
	}
	return &RunBucket{store: store}, nil
}

// Put records the latest run for its device, replacing any earlier one.
func (b *RunBucket) Put(rec RunRecord) error {
	if rec.Device == "" {
		return errors.New("run record has no device")
	}
	return b.store.SetJSON(BucketRuns, rec.Device, rec, RunRetention)
}

// Get returns the latest run for a device.
func (b *RunBucket) Get(device string) (*RunRecord, error) {
	var rec RunRecord
	if err := b.store.GetJSON(BucketRuns, device, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the latest run of every device, ordered by device.
func (b *RunBucket) List() ([]RunRecord, error) {
	keys, err := b.store.ListKeys(BucketRuns)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := b.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue // expired between ListKeys and Get
		}
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", key, err)
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, nil
}

// Forget removes a device's run history.
func (b *RunBucket) Forget(device string) error {
	err := b.store.Delete(BucketRuns, device)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
