package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"CreatorScanner/internal/domain"
)

var (
	pendingPhase    string
	pendingSourceID int64
	pendingAfterID  int64
	pendingLimit    int
)

func init() {
	pendingCmd.Flags().StringVar(&pendingPhase, "phase", string(domain.PhaseDetail), "Phase to list pending items for (discovery, detail, grouping).")
	pendingCmd.Flags().Int64Var(&pendingSourceID, "source-id", domain.AllSources, "Restrict to one source id; 0 lists every source.")
	pendingCmd.Flags().Int64Var(&pendingAfterID, "after", 0, "Resume after this item id.")
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 50, "Maximum number of items to print.")
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending [--phase <phase>] [--source-id <id>] [--after <item id>]",
	Short: "Lists items whose phase is not complete yet.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		phase, err := domain.ParsePhase(pendingPhase)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		items, next, err := a.Tracker().PendingPage(cmd.Context(), domain.PendingQuery{
			SourceID: pendingSourceID,
			Phase:    phase,
			AfterID:  pendingAfterID,
			Limit:    pendingLimit,
		})
		if err != nil {
			return err
		}

		t := newTable(cmd)
		t.AppendHeader(table.Row{"Item", "Source", "Native ID", "Attempts", "URL"})
		for _, it := range items {
			t.AppendRow(table.Row{it.ID, it.SourceID, it.NativeID, it.AttemptCount, it.URL})
		}
		t.Render()
		if next != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "more items: --after %d\n", next)
		}
		return nil
	},
}
