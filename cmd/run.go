package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/config"
	"grimm.is/mudgate/internal/pipeline"
)

type runFlags struct {
	all       bool
	dryRun    bool
	noEnforce bool
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	c := &cobra.Command{
		Use:   "run [device...]",
		Short: "Fetch, verify, compile and enforce devices once",
		Long: `Run the full pipeline once for each named device, or for every enabled
device with --all. With --dry-run nothing is written or applied; the diff
between the persisted script and the newly generated one is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()
			if !f.dryRun {
				if err := e.openHistory(); err != nil {
					return err
				}
			}
			runner, err := e.newRunner(pipeline.Options{})
			if err != nil {
				return err
			}
			devices, err := selectDevices(e.cfg, args, f.all)
			if err != nil {
				return err
			}
			return RunDevices(cmd.Context(), runner, devices, pipeline.RunOptions{
				DryRun:    f.dryRun,
				NoEnforce: f.noEnforce,
			}, cmd.OutOrStdout())
		},
	}
	c.Flags().BoolVarP(&f.all, "all", "a", false, "run every enabled device")
	c.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "generate and diff only")
	c.Flags().BoolVar(&f.noEnforce, "no-enforce", false, "persist the script without applying it")
	return c
}

// selectDevices resolves the device arguments of a command.
func selectDevices(cfg *config.Config, args []string, all bool) ([]string, error) {
	if all {
		if len(args) > 0 {
			return nil, errors.New("--all takes no device arguments")
		}
		var ids []string
		for _, d := range cfg.EnabledDevices() {
			ids = append(ids, d.ID)
		}
		if len(ids) == 0 {
			return nil, errors.New("no enabled devices configured")
		}
		return ids, nil
	}
	if len(args) == 0 {
		return nil, errors.New("name at least one device, or use --all")
	}
	for _, id := range args {
		if _, ok := cfg.Device(id); !ok {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownDevice, id)
		}
	}
	return args, nil
}

// DeviceRunner is the part of pipeline.Runner used by RunDevices.
type DeviceRunner interface {
	RunWith(ctx context.Context, device string, opts pipeline.RunOptions) (*pipeline.Report, error)
}

// RunDevices runs each device in turn, printing one summary line per device.
// Every device is attempted; the returned error joins the failures.
func RunDevices(ctx context.Context, runner DeviceRunner, devices []string, opts pipeline.RunOptions, out io.Writer) error {
	var errs []error
	for _, id := range devices {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := runner.RunWith(ctx, id, opts)
		if err != nil {
			fmt.Fprintf(out, "%s: FAILED (%s): %v\n", id, pipeline.Kind(err), err)
			errs = append(errs, err)
			continue
		}
		printReport(out, rep)
	}
	return errors.Join(errs...)
}

func printReport(out io.Writer, rep *pipeline.Report) {
	v := rep.Verification
	fmt.Fprintf(out, "%s: verdict=%s (%s) rules=%d/%d skipped=%d",
		rep.Device, v.Verdict, v.Reason, rep.Script.Outbound, rep.Script.Inbound, rep.Script.Skipped)
	switch {
	case rep.DryRun:
		if !rep.Permitted() {
			fmt.Fprintf(out, " [policy %s would refuse]", rep.Policy)
		}
		fmt.Fprintln(out, " [dry run]")
		if rep.Changed {
			fmt.Fprint(out, rep.Diff)
		} else {
			fmt.Fprintln(out, "  no changes")
		}
	case rep.Enforced:
		fmt.Fprintf(out, " applied %s\n", rep.ScriptPath)
	default:
		fmt.Fprintf(out, " persisted %s\n", rep.ScriptPath)
	}
}
