package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"CreatorScanner/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints per-source tracking counts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		sources, err := a.Resolver().Sources(ctx)
		if err != nil {
			return err
		}

		t := newTable(cmd)
		t.AppendHeader(table.Row{"ID", "Creator", "Platform", "Source", "Active", "Items", "Discovered", "Detailed", "Grouped", "With errors", "Attempts"})
		for _, src := range sources {
			sum, err := a.Tracker().Summary(ctx, src.SourceID)
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{
				src.SourceID, src.CreatorName, src.Platform, src.NativeID, src.Active,
				sum.Total, sum.DiscoveryDone, sum.DetailDone, sum.GroupingDone, sum.ItemsWithErrors, sum.Attempts,
			})
		}

		total, err := a.Tracker().Summary(ctx, domain.AllSources)
		if err != nil {
			return err
		}
		t.AppendFooter(table.Row{"", "", "", "", "Total",
			total.Total, total.DiscoveryDone, total.DetailDone, total.GroupingDone, total.ItemsWithErrors, total.Attempts})
		t.Render()
		return nil
	},
}
