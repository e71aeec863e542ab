package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsched/mailsched/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for Go, Gofulmen and Crucible versions, or -o json for the /version document.",
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		out := cmd.OutOrStdout()

		if outputFormat != "" && outputFormat != "table" {
			handlers.SetAppName(identity.BinaryName)
			return render(cmd, handlers.CurrentVersion())
		}

		fmt.Fprintf(out, "%s %s\n", identity.BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}

		report := handlers.CurrentVersion()
		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s\n", report.App.GoVersion)
		fmt.Fprintf(out, "Platform: %s\n\n", report.Runtime.Platform)
		fmt.Fprintf(out, "Gofulmen: %s\n", report.Dependencies.Gofulmen)
		fmt.Fprintf(out, "Crucible: %s\n", report.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
