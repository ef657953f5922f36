package pipeline

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"grimm.is/mudgate/internal/clock"
	"grimm.is/mudgate/internal/config"
	"grimm.is/mudgate/internal/fetch"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/logging"
	"grimm.is/mudgate/internal/metrics"
	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/signature"
	"grimm.is/mudgate/internal/state"
)

// rollbackTimeout bounds restoring the previous script after a failed apply.
const rollbackTimeout = 30 * time.Second

// Enforcer applies and removes persisted rule scripts.
type Enforcer interface {
	Apply(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// Options supplies the collaborators of a Runner. Nil fields get defaults
// built from the config.
type Options struct {
	Fetcher  fetch.Fetcher
	Gate     *signature.Gate
	Enforcer Enforcer
	Runs     *state.RunBucket  // optional run history
	Metrics  *metrics.Registry // optional
	Clock    clock.Clock
	Logger   *logging.Logger
}

// RunOptions alter a single run.
type RunOptions struct {
	// DryRun stops after generation and reports a diff against the
	// persisted script. Nothing is written and the run is not recorded.
	DryRun bool
	// NoEnforce persists the script without running it.
	NoEnforce bool
}

// Runner executes pipeline runs for the devices of one config.
type Runner struct {
	cfg       *config.Config
	fetcher   fetch.Fetcher
	gate      *signature.Gate
	generator *firewall.Generator
	enforcer  Enforcer
	runs      *state.RunBucket
	metrics   *metrics.Registry
	clock     clock.Clock
	logger    *logging.Logger
	locks     *lockSet
}

// NewRunner creates a runner. cfg must have passed Validate.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	gen, err := firewall.NewGenerator(cfg.FirewallOptions())
	if err != nil {
		return nil, fmt.Errorf("firewall options: %w", err)
	}

	r := &Runner{
		cfg:       cfg,
		fetcher:   opts.Fetcher,
		gate:      opts.Gate,
		generator: gen,
		enforcer:  opts.Enforcer,
		runs:      opts.Runs,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		logger:    opts.Logger,
		locks:     newLockSet(cfg.LocksDir()),
	}
	if r.fetcher == nil {
		r.fetcher = fetch.NewHTTPFetcher()
	}
	if r.gate == nil {
		var roots *x509.CertPool
		if cfg.Verification != nil && cfg.Verification.TrustAnchors != "" {
			roots, err = signature.LoadTrustAnchors(cfg.Verification.TrustAnchors)
			if err != nil {
				return nil, err
			}
		}
		r.gate = signature.NewGate(nil, roots)
	}
	if r.enforcer == nil {
		e := firewall.NewEnforcer(nil, gen.Options())
		if cfg.Firewall != nil {
			e.WithShell(cfg.Firewall.Shell)
		}
		r.enforcer = e
	}
	if r.clock == nil {
		r.clock = clock.Default()
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("pipeline")
	}
	if !r.gate.HasTrustAnchor() {
		r.warnUnanchored()
	}
	return r, nil
}

// warnUnanchored names the devices whose policy needs a verified
// signature that an anchorless gate can never produce.
func (r *Runner) warnUnanchored() {
	var blocked []string
	for _, d := range r.cfg.EnabledDevices() {
		if p, err := r.cfg.PolicyFor(d); err == nil && p == signature.PolicyStrict {
			blocked = append(blocked, d.ID)
		}
	}
	if len(blocked) > 0 {
		r.logger.Warn("no trust anchors configured; strict devices will never be enforced", "devices", blocked)
	}
}

// Report describes one run. Fields after a failed stage are zero.
type Report struct {
	RunID      string    `json:"run_id"`
	Device     string    `json:"device"`
	URL        string    `json:"url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	Document     *mud.Document         `json:"document,omitempty"`
	RuleSet      mud.CorrelatedRuleSet `json:"-"`
	Verification signature.Result      `json:"-"`
	Policy       signature.Policy      `json:"policy"`
	Script       firewall.RuleScript   `json:"script"`

	ScriptPath string `json:"script_path,omitempty"`
	Changed    bool   `json:"changed"`
	Diff       string `json:"diff,omitempty"`
	Enforced   bool   `json:"enforced"`
}

// Permitted reports whether the verification result allows enforcement.
func (r *Report) Permitted() bool {
	return r.Policy.Permits(r.Verification)
}

// Run executes a full run for device.
func (r *Runner) Run(ctx context.Context, device string) (*Report, error) {
	return r.RunWith(ctx, device, RunOptions{})
}

// RunWith executes a run for device with the given options.
func (r *Runner) RunWith(ctx context.Context, device string, ro RunOptions) (rep *Report, err error) {
	dev, ok := r.cfg.Device(device)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	if dev.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrDeviceDisabled, device)
	}
	policy, err := r.cfg.PolicyFor(dev)
	if err != nil {
		return nil, err
	}

	rep = &Report{
		RunID:     uuid.NewString(),
		Device:    device,
		URL:       dev.MUDURL,
		StartedAt: r.clock.Now(),
		DryRun:    ro.DryRun,
		Policy:    policy,
	}
	log := r.logger.WithRun(rep.RunID, device)
	defer func() {
		rep.FinishedAt = r.clock.Now()
		r.finish(log, rep, err)
	}()

	fail := func(stage string, err error) error {
		return &StageError{Device: device, Stage: stage, Err: err}
	}

	release, err := r.locks.acquire(device)
	if err != nil {
		return rep, fail(StageLock, err)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return rep, fail(StageFetch, err)
	}
	log.Debug("fetching document", "url", dev.MUDURL)
	body, err := r.fetcher.Fetch(ctx, dev.MUDURL)
	if err != nil {
		return rep, fail(StageFetch, err)
	}

	if err := ctx.Err(); err != nil {
		return rep, fail(StageDecode, err)
	}
	tree, err := mud.Decode(body)
	if err != nil {
		return rep, fail(StageDecode, err)
	}
	doc, err := mud.Build(tree)
	if err != nil {
		return rep, fail(StageBuild, err)
	}
	rep.Document = doc
	if doc.URL != dev.MUDURL {
		log.Warn("document mud-url differs from the fetched url", "mud_url", doc.URL, "fetched", dev.MUDURL)
	}

	if err := ctx.Err(); err != nil {
		return rep, fail(StageSignature, err)
	}
	rep.Verification = r.verify(ctx, log, dev, doc, body)

	if err := ctx.Err(); err != nil {
		return rep, fail(StageCorrelate, err)
	}
	set, err := mud.Correlate(doc)
	if err != nil {
		return rep, fail(StageCorrelate, err)
	}
	rep.RuleSet = set

	script, err := r.generator.Generate(set, device)
	if err != nil {
		return rep, fail(StageGenerate, err)
	}
	rep.Script = script
	for _, w := range script.Warnings {
		log.Warn("rule is broader than its entry", "detail", w)
	}
	if script.Skipped > 0 {
		log.Warn("some entries cannot be expressed as rules", "skipped", script.Skipped)
	}

	previous, err := firewall.ReadPersisted(r.cfg.StateDir, device)
	if err != nil {
		return rep, fail(StagePersist, &firewall.PersistenceError{
			Path: firewall.ScriptPath(r.cfg.StateDir, device), Op: "read", Err: err,
		})
	}
	rep.Changed = string(previous) != script.Text

	if ro.DryRun {
		rep.Diff, err = firewall.Diff(string(previous), script.Text, device+".sh")
		if err != nil {
			return rep, fail(StageGenerate, err)
		}
		return rep, nil
	}

	if err := policy.Check(rep.Verification); err != nil {
		return rep, fail(StagePolicy, err)
	}

	if err := ctx.Err(); err != nil {
		return rep, fail(StagePersist, err)
	}
	path, err := firewall.Persist(r.cfg.StateDir, script)
	if err != nil {
		return rep, fail(StagePersist, err)
	}
	rep.ScriptPath = path

	if ro.NoEnforce {
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		r.rollback(ctx, log, device, path, previous, false)
		return rep, fail(StageEnforce, err)
	}
	if err := r.enforcer.Apply(ctx, path); err != nil {
		r.rollback(ctx, log, device, path, previous, true)
		return rep, fail(StageEnforce, err)
	}
	rep.Enforced = true

	log.Audit("apply", device,
		"url", dev.MUDURL,
		"verdict", rep.Verification.Verdict.String(),
		"reason", string(rep.Verification.Reason),
		"outbound", script.Outbound,
		"inbound", script.Inbound,
		"script", path)
	return rep, nil
}

// verify fetches the detached signature, if any, and checks it once.
func (r *Runner) verify(ctx context.Context, log *logging.Logger, dev config.Device, doc *mud.Document, body []byte) signature.Result {
	sigURL := dev.SignatureURL
	if sigURL == "" {
		sigURL = doc.Signature
	}

	var result signature.Result
	if sigURL == "" {
		result = r.gate.Verify(body, nil)
	} else if sig, err := r.fetcher.Fetch(ctx, sigURL); err != nil {
		log.Warn("signature fetch failed", "url", sigURL, "error", err)
		result = signature.UnavailableResult(signature.ReasonFetchFailed, err)
	} else {
		result = r.gate.Verify(body, sig)
	}

	attrs := []any{"verdict", result.Verdict.String(), "reason", string(result.Reason)}
	if len(result.Signers) > 0 {
		attrs = append(attrs, "signers", result.Signers)
	}
	if result.Cause != nil {
		attrs = append(attrs, "cause", result.Cause)
	}
	log.Info("signature checked", attrs...)

	if r.metrics != nil {
		r.metrics.RecordVerdict(dev.ID, result.Verdict.String(), string(result.Reason))
	}
	return result
}

// rollback restores the script that was persisted before this run. When
// reapply is set the restored script is applied again, since a failed apply
// may have left the new chains half loaded.
func (r *Runner) rollback(ctx context.Context, log *logging.Logger, device, path string, previous []byte, reapply bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if previous == nil {
		if reapply {
			if err := r.enforcer.Remove(ctx, path); err != nil {
				log.Error("rollback: failed to remove new rules", "error", err)
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error("rollback: failed to remove new script", "error", err)
		}
		return
	}

	restored, err := firewall.Persist(r.cfg.StateDir, firewall.RuleScript{Device: device, Text: string(previous)})
	if err != nil {
		log.Error("rollback: failed to restore previous script", "error", err)
		return
	}
	if reapply {
		if err := r.enforcer.Apply(ctx, restored); err != nil {
			log.Error("rollback: failed to reapply previous script", "error", err)
			return
		}
	}
	log.Warn("rolled back to previous script", "script", restored)
}

// finish logs the outcome, updates metrics and records run history.
func (r *Runner) finish(log *logging.Logger, rep *Report, err error) {
	kind := Kind(err)
	duration := rep.FinishedAt.Sub(rep.StartedAt)
	if err != nil {
		log.Error("run failed", "kind", kind, "error", err, "duration", duration)
	} else {
		log.Info("run complete",
			"outbound", rep.Script.Outbound,
			"inbound", rep.Script.Inbound,
			"skipped", rep.Script.Skipped,
			"changed", rep.Changed,
			"enforced", rep.Enforced,
			"duration", duration)
	}

	if rep.DryRun {
		return
	}

	if r.metrics != nil {
		result := metrics.ResultOK
		if err != nil {
			result = kind
		} else {
			r.metrics.RecordRules(rep.Device, rep.Script.Outbound, rep.Script.Inbound, rep.Script.Skipped)
		}
		r.metrics.RecordRun(rep.Device, result, duration, rep.FinishedAt)
	}

	if r.runs == nil {
		return
	}
	rec := state.RunRecord{
		RunID:      rep.RunID,
		Device:     rep.Device,
		URL:        rep.URL,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Outbound:   rep.Script.Outbound,
		Inbound:    rep.Script.Inbound,
		Skipped:    rep.Script.Skipped,
		ScriptPath: rep.ScriptPath,
		Enforced:   rep.Enforced,
		ErrorKind:  kind,
	}
	if rep.Document != nil {
		rec.Verdict = rep.Verification.Verdict.String()
		rec.Reason = string(rep.Verification.Reason)
		rec.CacheValidity = rep.Document.CacheValidity.OrElse(mud.DefaultCacheValidity)
	}
	if rep.Script.Text != "" && err == nil {
		sum := sha256.Sum256([]byte(rep.Script.Text))
		rec.ScriptSHA256 = hex.EncodeToString(sum[:])
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if perr := r.runs.Put(rec); perr != nil {
		log.Warn("failed to record run", "error", perr)
	}
}

// Down removes the loaded rules of device using its persisted script.
func (r *Runner) Down(ctx context.Context, device string) error {
	if _, ok := r.cfg.Device(device); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	release, err := r.locks.acquire(device)
	if err != nil {
		return &StageError{Device: device, Stage: StageLock, Err: err}
	}
	defer release()

	path := firewall.ScriptPath(r.cfg.StateDir, device)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotPersisted, path)
	}
	if err := r.enforcer.Remove(ctx, path); err != nil {
		return &StageError{Device: device, Stage: StageEnforce, Err: err}
	}
	r.logger.Audit("remove", device, "script", path)
	if r.runs == nil {
		return nil
	}
	if err := r.runs.Forget(device); err != nil {
		r.logger.Warn("failed to clear run history", "device", device, "error", err)
	}
	return nil
}

// Config returns the config the runner was built from.
func (r *Runner) Config() *config.Config { return r.cfg }
