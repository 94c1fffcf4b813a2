package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/config"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "selfswitch %s\n", version.Current())
			fmt.Fprintf(out, "  go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  artifact: *%s\n", config.DefaultArtifactSuffix())
		},
	}
}
