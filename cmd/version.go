package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"grimm.is/mudgate/internal/brand"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", brand.BinaryName, brand.Version)
			fmt.Fprintf(out, "  Commit:     %s\n", brand.GitCommit)
			fmt.Fprintf(out, "  Built:      %s\n", brand.BuildTime)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
