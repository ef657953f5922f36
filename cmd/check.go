package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/config"
)

func newCheckCommand(g *globalFlags) *cobra.Command {
	var show bool
	c := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunCheck(g.configFile, show, cmd.OutOrStdout())
		},
	}
	c.Flags().BoolVar(&show, "show", false, "print the effective configuration with defaults applied")
	return c
}

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, show bool, out io.Writer) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Fprintf(out, "Configuration valid!\n")
	fmt.Fprintf(out, "Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Fprintf(out, "State Dir: %s\n", cfg.StateDir)
	fmt.Fprintf(out, "Devices: %d (%d enabled)\n", len(cfg.Devices), len(cfg.EnabledDevices()))
	fmt.Fprintf(out, "Verification Policy: %s\n", cfg.Verification.Policy)

	if show {
		fmt.Fprintln(out)
		_, err = out.Write(config.EncodeHCL(cfg))
	}
	return err
}
