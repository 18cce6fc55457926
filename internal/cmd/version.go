package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/arenawatch/arenawatch/internal/config"
)

var (
	extended    bool
	versionJSON bool
)

type versionReport struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go,omitempty"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

func buildVersionReport(full bool) versionReport {
	report := versionReport{Name: config.AppName, Version: versionInfo.Version}
	if !full {
		return report
	}
	deps := crucible.GetVersion()
	report.Commit = versionInfo.Commit
	report.BuildDate = versionInfo.BuildDate
	report.Go = runtime.Version()
	report.Gofulmen = deps.Gofulmen
	report.Crucible = deps.Crucible
	return report
}

func writeVersion(w io.Writer, report versionReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if _, err := fmt.Fprintf(w, "%s %s\n", report.Name, report.Version); err != nil {
		return err
	}
	if report.Go == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "Commit: %s\nBuilt: %s\nGo: %s\n\nGofulmen: %s\nCrucible: %s\n",
		report.Commit, report.BuildDate, report.Go, report.Gofulmen, report.Crucible)
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, Go and framework versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), buildVersionReport(extended || versionJSON), versionJSON)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print extended version information as JSON")
}
