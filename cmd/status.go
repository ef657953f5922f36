package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/config"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/metrics"
	"grimm.is/mudgate/internal/state"
)

func newStatusCommand(g *globalFlags) *cobra.Command {
	var kernel bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the last run and loaded rules per device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.openHistory(); err != nil {
				return err
			}
			var counter metrics.RuleCounter
			if kernel {
				counter = firewall.NewEnforcer(nil, e.cfg.FirewallOptions())
			}
			return RunStatus(cmd.Context(), e.cfg, e.runs, counter, cmd.OutOrStdout())
		},
	}
	c.Flags().BoolVar(&kernel, "kernel", true, "query iptables for loaded rule counts")
	return c
}

// RunStatus prints one line per configured device. A nil counter skips the
// loaded rule column.
func RunStatus(ctx context.Context, cfg *config.Config, runs *state.RunBucket, counter metrics.RuleCounter, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "DEVICE\tLAST RUN\tDURATION\tRESULT\tVERDICT\tRULES\tSKIPPED"
	if counter != nil {
		header += "\tLOADED"
	}
	fmt.Fprintln(w, header)

	for _, d := range cfg.Devices {
		line := statusLine(d, runs)
		if counter != nil {
			outChain, inChain := firewall.ChainNames(d.ID)
			line += "\t" + loadedColumn(ctx, counter, outChain, inChain)
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func statusLine(d config.Device, runs *state.RunBucket) string {
	name := d.ID
	if d.Disabled {
		name += " (disabled)"
	}
	rec, err := runs.Get(d.ID)
	if errors.Is(err, state.ErrNotFound) {
		return name + "\tnever\t-\t-\t-\t-\t-"
	}
	if err != nil {
		return fmt.Sprintf("%s\terror: %v\t-\t-\t-\t-\t-", name, err)
	}

	result := "ok"
	if !rec.Succeeded() {
		result = "failed (" + rec.ErrorKind + ")"
	} else if !rec.Enforced {
		result = "persisted"
	}
	verdict := rec.Verdict
	if verdict == "" {
		verdict = "-"
	} else if rec.Reason != "" && rec.Reason != rec.Verdict {
		verdict += " (" + rec.Reason + ")"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%d/%d\t%d",
		name, rec.FinishedAt.Local().Format(time.DateTime), durationColumn(*rec), result, verdict, rec.Outbound, rec.Inbound, rec.Skipped)
}

func durationColumn(rec state.RunRecord) string {
	if rec.StartedAt.IsZero() || rec.Duration() < 0 {
		return "-"
	}
	return rec.Duration().Round(time.Millisecond).String()
}

func loadedColumn(ctx context.Context, counter metrics.RuleCounter, chains ...string) string {
	var counts []any
	for _, chain := range chains {
		n, err := counter.Loaded(ctx, chain)
		if err != nil {
			return "-"
		}
		counts = append(counts, n)
	}
	return fmt.Sprintf("%d/%d", counts...)
}
