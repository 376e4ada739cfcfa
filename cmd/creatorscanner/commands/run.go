package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"CreatorScanner/internal/usecase"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scans every configured source once.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.Run(cmd.Context())
		renderReports(cmd, reports)
		return err
	},
}

func renderReports(cmd *cobra.Command, reports []usecase.Report) {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"Platform", "Source", "Pages", "New", "Detailed", "Grouped", "Failed", "Media stored", "Media dedup", "Took", "Status"})
	for _, r := range reports {
		status := "ok"
		switch {
		case r.Err != nil:
			status = r.Err.Error()
		case r.Inactive:
			status = "inactive"
		case r.ListingErr != nil:
			status = "listing: " + r.ListingErr.Error()
		}
		t.AppendRow(table.Row{
			r.Platform, r.NativeID, r.Pages, r.Discovered, r.Detailed, r.Grouped, r.Failed,
			r.MediaStored, r.MediaDeduplicated, r.Duration.Round(time.Millisecond), status,
		})
	}
	t.Render()
}
