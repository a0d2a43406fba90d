package cmd

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/config"
	"github.com/marketgate/marketgate/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build details and key dependency versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
		if !extended {
			return nil
		}

		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s\n", runtime.Version())

		deps := handlers.DependencyVersions()
		if len(deps) == 0 {
			return nil
		}
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(out)
		for _, name := range names {
			fmt.Fprintf(out, "%s: %s\n", name, deps[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
