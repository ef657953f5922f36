package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/mudgate/internal/config"
	"grimm.is/mudgate/internal/fetch"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/logging"
	"grimm.is/mudgate/internal/metrics"
	"grimm.is/mudgate/internal/signature"
	"grimm.is/mudgate/internal/state"
	"grimm.is/mudgate/internal/testutil"
)

const (
	docURL = "https://example.com/device.json"
	sigURL = "https://example.com/device.p7s"

	aclOutMatches = `{
		"ipv4": {"protocol": 6, "ietf-acldns:dst-dnsname": "svc.example.com"},
		"tcp":  {"destination-port": {"operator": "eq", "port": 443}}
	}`
	aclOutRule = "iptables -A bulb_OUTPUT -p tcp --destination svc.example.com --dport 443 -m comment --comment acl-out/ace-0 -j ACCEPT"
)

// fakeFetcher serves fixed bodies by URL; anything else is a 404.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	calls  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := ctx.Err(); err != nil {
		return nil, &fetch.FetchError{URL: url, Err: err}
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, &fetch.FetchError{URL: url, Status: 404, Err: fetch.ErrUnexpectedStatus}
	}
	return body, nil
}

type mockEnforcer struct {
	mock.Mock
}

func (m *mockEnforcer) Apply(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockEnforcer) Remove(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

type harness struct {
	cfg      *config.Config
	fetcher  *fakeFetcher
	enforcer *mockEnforcer
	runs     *state.RunBucket
	metrics  *metrics.Registry
	signer   *testutil.Signer
	runner   *Runner
	doc      []byte
}

func newHarness(t *testing.T, policy string) *harness {
	t.Helper()

	cfg := &config.Config{
		StateDir:     t.TempDir(),
		Verification: &config.VerificationConfig{Policy: policy},
		Devices:      []config.Device{{ID: "bulb", MUDURL: docURL}},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	runs, err := state.NewRunBucket(store)
	require.NoError(t, err)

	h := &harness{
		cfg:      cfg,
		fetcher:  &fakeFetcher{bodies: map[string][]byte{}},
		enforcer: &mockEnforcer{},
		runs:     runs,
		metrics:  metrics.New(prometheus.NewRegistry()),
		signer:   testutil.NewSigner(t, "mud-ca"),
		doc:      testutil.SingleACEDocument(aclOutMatches),
	}
	h.fetcher.bodies[docURL] = h.doc

	h.runner, err = NewRunner(cfg, Options{
		Fetcher:  h.fetcher,
		Gate:     signature.NewGate(nil, h.signer.Roots()),
		Enforcer: h.enforcer,
		Runs:     runs,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) sign(t *testing.T) {
	h.fetcher.bodies[sigURL] = h.signer.Sign(t, h.doc)
}

func (h *harness) scriptPath() string {
	return firewall.ScriptPath(h.cfg.StateDir, "bulb")
}

func TestRun_VerifiedDocumentIsEnforced(t *testing.T) {
	h := newHarness(t, "strict")
	h.sign(t)
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, signature.Verified, rep.Verification.Verdict)
	assert.Equal(t, []string{"mud-signer"}, rep.Verification.Signers)
	assert.True(t, rep.Permitted())
	assert.Equal(t, 1, rep.Script.Outbound)
	assert.True(t, rep.Changed)
	assert.True(t, rep.Enforced)
	assert.Equal(t, h.scriptPath(), rep.ScriptPath)
	assert.Equal(t, []string{docURL, sigURL}, h.fetcher.calls)

	data, err := os.ReadFile(h.scriptPath())
	require.NoError(t, err)
	assert.Equal(t, rep.Script.Text, string(data))
	assert.Contains(t, string(data), aclOutRule)

	rec, err := h.runs.Get("bulb")
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, rec.RunID)
	assert.Equal(t, "verified", rec.Verdict)
	assert.True(t, rec.Succeeded())
	assert.True(t, rec.Enforced)
	assert.Len(t, rec.ScriptSHA256, 64)
	assert.Equal(t, 48, rec.CacheValidity)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.RunsTotal.WithLabelValues("bulb", metrics.ResultOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.GeneratedRules.WithLabelValues("bulb", "from-device")))
	h.enforcer.AssertExpectations(t)

	// A second run over the same document produces the same script.
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()
	again, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, rep.Script.Text, again.Script.Text)
}

func TestRun_StrictRejectsUnavailableSignature(t *testing.T) {
	h := newHarness(t, "strict")

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindVerificationUnavailable, Kind(err))
	assert.ErrorIs(t, err, signature.ErrVerificationUnavailable)
	assert.Equal(t, signature.Unavailable, rep.Verification.Verdict)
	assert.Equal(t, signature.ReasonFetchFailed, rep.Verification.Reason)

	_, statErr := os.Stat(h.scriptPath())
	assert.True(t, os.IsNotExist(statErr))
	h.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)

	rec, err := h.runs.Get("bulb")
	require.NoError(t, err)
	assert.False(t, rec.Succeeded())
	assert.Equal(t, KindVerificationUnavailable, rec.ErrorKind)
	assert.Equal(t, "unavailable", rec.Verdict)
}

func TestRun_AllowUnavailablePermitsMissingSignature(t *testing.T) {
	h := newHarness(t, "allow-unavailable")
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)
	assert.Equal(t, signature.Unavailable, rep.Verification.Verdict)
	assert.True(t, rep.Enforced)
}

func TestRun_MalformedSignatureIsUnavailable(t *testing.T) {
	h := newHarness(t, "allow-unavailable")
	h.fetcher.bodies[sigURL] = []byte("not a cms container")
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)
	assert.Equal(t, signature.Unavailable, rep.Verification.Verdict)
	assert.Equal(t, signature.ReasonMalformed, rep.Verification.Reason)
}

func TestRun_TamperedDocumentFailsVerification(t *testing.T) {
	h := newHarness(t, "allow-unavailable")
	h.fetcher.bodies[sigURL] = h.signer.Sign(t, []byte("some other document"))

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindVerificationFailed, Kind(err))
	assert.Equal(t, signature.Failed, rep.Verification.Verdict)
	h.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestRun_AdvisoryEnforcesFailedVerdict(t *testing.T) {
	h := newHarness(t, "advisory")
	h.fetcher.bodies[sigURL] = h.signer.Sign(t, []byte("some other document"))
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)
	assert.Equal(t, signature.Failed, rep.Verification.Verdict)
	assert.True(t, rep.Enforced)
}

func TestRun_FailureLeavesPersistedScript(t *testing.T) {
	h := newHarness(t, "advisory")
	_, err := firewall.Persist(h.cfg.StateDir, firewall.RuleScript{Device: "bulb", Text: "#!/bin/sh\n# previous\n"})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		kind string
	}{
		{"syntax", `{"ietf-mud:mud": `, KindStructural},
		{"ambiguous", string(testutil.SingleACEDocument(`{"ipv4": {}, "ipv6": {}}`)), KindAmbiguous},
		{"structural", string(testutil.SingleACEDocument(`{"tcp": {"source-port": {"port": 70000}}}`)), KindStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.fetcher.bodies[docURL] = []byte(tt.body)
			_, err := h.runner.Run(context.Background(), "bulb")
			require.Error(t, err)
			assert.Equal(t, tt.kind, Kind(err))

			data, err := os.ReadFile(h.scriptPath())
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\n# previous\n", string(data))
		})
	}
	h.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestRun_FetchFailure(t *testing.T) {
	h := newHarness(t, "strict")
	delete(h.fetcher.bodies, docURL)

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindFetch, Kind(err))
	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.Status)
	assert.Nil(t, rep.Document)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.RunsTotal.WithLabelValues("bulb", KindFetch)))
}

func TestRun_DryRunReportsDiff(t *testing.T) {
	h := newHarness(t, "strict")

	rep, err := h.runner.RunWith(context.Background(), "bulb", RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.True(t, rep.Changed)
	assert.False(t, rep.Permitted())
	assert.Contains(t, rep.Diff, "+++ bulb.sh (generated)")
	assert.Contains(t, rep.Diff, "+\t"+aclOutRule)

	_, statErr := os.Stat(h.scriptPath())
	assert.True(t, os.IsNotExist(statErr))
	_, err = h.runs.Get("bulb")
	assert.ErrorIs(t, err, state.ErrNotFound)
	h.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestRun_NoEnforcePersistsOnly(t *testing.T) {
	h := newHarness(t, "strict")
	h.sign(t)

	rep, err := h.runner.RunWith(context.Background(), "bulb", RunOptions{NoEnforce: true})
	require.NoError(t, err)
	assert.False(t, rep.Enforced)
	assert.FileExists(t, h.scriptPath())
	h.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestRun_EnforceFailureRestoresPreviousScript(t *testing.T) {
	h := newHarness(t, "strict")
	h.sign(t)
	previous := "#!/bin/sh\n# previous\n"
	_, err := firewall.Persist(h.cfg.StateDir, firewall.RuleScript{Device: "bulb", Text: previous})
	require.NoError(t, err)

	failed := h.enforcer.On("Apply", mock.Anything, h.scriptPath()).
		Return(&firewall.EnforcementError{Script: h.scriptPath(), Action: "up", Err: errors.New("exit status 4")}).Once()
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once().NotBefore(failed)

	_, err = h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindEnforce, Kind(err))

	data, err := os.ReadFile(h.scriptPath())
	require.NoError(t, err)
	assert.Equal(t, previous, string(data))
	h.enforcer.AssertExpectations(t)
}

func TestRun_EnforceFailureWithoutPreviousScript(t *testing.T) {
	h := newHarness(t, "strict")
	h.sign(t)
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(errors.New("exit status 1")).Once()
	h.enforcer.On("Remove", mock.Anything, h.scriptPath()).Return(nil).Once()

	_, err := h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindEnforce, Kind(err))

	_, statErr := os.Stat(h.scriptPath())
	assert.True(t, os.IsNotExist(statErr))
	h.enforcer.AssertExpectations(t)
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, "strict")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, "bulb")
	require.Error(t, err)
	assert.Equal(t, KindCanceled, Kind(err))
	assert.Empty(t, h.fetcher.calls)
}

func TestRun_UnknownAndDisabledDevices(t *testing.T) {
	h := newHarness(t, "strict")

	_, err := h.runner.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, KindConfig, Kind(err))

	h.cfg.Devices = append(h.cfg.Devices, config.Device{ID: "off", MUDURL: docURL, Disabled: true})
	_, err = h.runner.Run(context.Background(), "off")
	assert.ErrorIs(t, err, ErrDeviceDisabled)
}

func TestRun_SignatureURLOverride(t *testing.T) {
	h := newHarness(t, "strict")
	h.cfg.Devices[0].SignatureURL = "https://mirror.example.com/device.p7s"
	h.fetcher.bodies["https://mirror.example.com/device.p7s"] = h.signer.Sign(t, h.doc)
	h.enforcer.On("Apply", mock.Anything, h.scriptPath()).Return(nil).Once()

	rep, err := h.runner.Run(context.Background(), "bulb")
	require.NoError(t, err)
	assert.Equal(t, signature.Verified, rep.Verification.Verdict)
	assert.Equal(t, []string{docURL, "https://mirror.example.com/device.p7s"}, h.fetcher.calls)
}

func TestDown(t *testing.T) {
	h := newHarness(t, "strict")

	err := h.runner.Down(context.Background(), "bulb")
	assert.ErrorIs(t, err, ErrNotPersisted)

	_, err = firewall.Persist(h.cfg.StateDir, firewall.RuleScript{Device: "bulb", Text: "#!/bin/sh\n"})
	require.NoError(t, err)
	require.NoError(t, h.runs.Put(state.RunRecord{Device: "bulb", Enforced: true}))
	h.enforcer.On("Remove", mock.Anything, h.scriptPath()).Return(nil).Once()
	require.NoError(t, h.runner.Down(context.Background(), "bulb"))
	h.enforcer.AssertExpectations(t)

	// A removed device no longer counts as enforced on the next watch start.
	_, err = h.runs.Get("bulb")
	assert.ErrorIs(t, err, state.ErrNotFound)

	assert.ErrorIs(t, h.runner.Down(context.Background(), "nope"), ErrUnknownDevice)
}

func TestRun_LockHeldElsewhere(t *testing.T) {
	h := newHarness(t, "strict")

	// A separate lock set stands in for another process.
	other := newLockSet(h.cfg.LocksDir())
	release, err := other.acquire("bulb")
	require.NoError(t, err)
	defer release()

	_, err = h.runner.Run(context.Background(), "bulb")
	require.Error(t, err)
	assert.Equal(t, KindLock, Kind(err))
	assert.Empty(t, h.fetcher.calls)
}

func TestNewRunner_WarnsWithoutTrustAnchors(t *testing.T) {
	cfg := &config.Config{
		StateDir: t.TempDir(),
		Devices: []config.Device{
			{ID: "bulb", MUDURL: docURL},
			{ID: "cam", MUDURL: docURL, Policy: "advisory"},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	var buf bytes.Buffer
	_, err := NewRunner(cfg, Options{
		Gate:     signature.NewGate(nil, nil),
		Enforcer: &mockEnforcer{},
		Logger:   logging.New(logging.Config{Output: &buf, JSON: true}),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no trust anchors configured")
	assert.Contains(t, buf.String(), "bulb")
	assert.NotContains(t, buf.String(), "cam")

	buf.Reset()
	h := newHarness(t, "strict")
	_, err = NewRunner(h.cfg, Options{
		Gate:     signature.NewGate(nil, h.signer.Roots()),
		Enforcer: h.enforcer,
		Logger:   logging.New(logging.Config{Output: &buf, JSON: true}),
	})
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
