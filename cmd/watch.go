package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/health"
	"grimm.is/mudgate/internal/logging"
	"grimm.is/mudgate/internal/metrics"
	"grimm.is/mudgate/internal/pipeline"
)

const (
	collectInterval = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	healthCacheTTL  = 5 * time.Second
	scheduleGrace   = 5 * time.Minute
)

func newWatchCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep devices enforced, refreshing on cache-validity",
		Long: `Run every enabled device, then run each again when its document's
cache-validity expires (or after watch.refresh, if configured). Failed runs
are retried after watch.retry_interval. Runs never overlap.

When metrics.listen is set, Prometheus metrics are served on it along with
/healthz and /livez probes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.openHistory(); err != nil {
				return err
			}
			runner, err := e.newRunner(pipeline.Options{})
			if err != nil {
				return err
			}
			return RunWatch(cmd.Context(), e, runner)
		},
	}
}

// RunWatch runs the scheduler, and the metrics endpoint if configured,
// until ctx is cancelled.
func RunWatch(ctx context.Context, e *env, runner pipeline.DeviceRunner) error {
	cfg := e.cfg
	log := e.logger.WithComponent("watch")

	var devices []string
	var targets []metrics.ChainTarget
	for _, d := range cfg.EnabledDevices() {
		devices = append(devices, d.ID)
		out, in := firewall.ChainNames(d.ID)
		targets = append(targets,
			metrics.ChainTarget{Device: d.ID, Chain: out},
			metrics.ChainTarget{Device: d.ID, Chain: in})
	}

	schedule := pipeline.Schedule{Retry: cfg.RetryInterval()}
	if refresh, ok := cfg.RefreshInterval(); ok {
		schedule.Refresh = refresh
	}
	w := pipeline.NewWatcher(runner, devices, schedule, e.runs)

	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		enforcer := firewall.NewEnforcer(nil, cfg.FirewallOptions())
		collector := metrics.NewCollector(metrics.Get(), enforcer, logging.WithComponent("metrics"), collectInterval)
		collector.SetTargets(targets)
		go collector.Start()
		defer collector.Stop()

		checker := health.NewChecker(healthCacheTTL)
		checker.Register("state_dir", health.CheckWritable(cfg.StateDir))
		checker.Register("iptables", health.CheckBinary(cfg.Firewall.IPTables))
		checker.Register("runs", health.CheckRuns(e.runs, devices))
		checker.Register("loaded_rules", health.CheckLoaded(collector, e.runs, devices, 3*collectInterval))
		checker.Register("schedule", health.CheckSchedule(w.Status, scheduleGrace))

		stop := serveMetrics(cfg.Metrics.Listen, cfg.Metrics.Path, checker, log)
		defer stop()
	}

	return w.Run(ctx)
}

// serveMetrics starts the Prometheus and health endpoints and returns
// their shutdown func.
func serveMetrics(addr, path string, checker *health.Checker, log *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/livez", health.LivenessHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("serving metrics", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
