package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/pipeline"
)

func newDownCommand(g *globalFlags) *cobra.Command {
	var all bool
	c := &cobra.Command{
		Use:   "down [device...]",
		Short: "Remove the rules of a device",
		Long: `Run the "down" action of each device's persisted script, removing its
chains and hook jumps. The persisted script is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()
			runner, err := e.newRunner(pipeline.Options{})
			if err != nil {
				return err
			}
			devices, err := selectDevices(e.cfg, args, all)
			if err != nil {
				return err
			}

			var errs []error
			for _, id := range devices {
				if err := runner.Down(cmd.Context(), id); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED: %v\n", id, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: rules removed\n", id)
			}
			return errors.Join(errs...)
		},
	}
	c.Flags().BoolVarP(&all, "all", "a", false, "remove the rules of every enabled device")
	return c
}
