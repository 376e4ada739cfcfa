package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	failuresSourceID int64
	failuresLimit    int
)

func init() {
	failuresCmd.Flags().Int64Var(&failuresSourceID, "source-id", 0, "Restrict to one source id; 0 lists every source.")
	failuresCmd.Flags().IntVar(&failuresLimit, "limit", 50, "Maximum number of items to print.")
	rootCmd.AddCommand(failuresCmd)
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Lists items with their most recent processing error.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		failures, err := a.Tracker().Failures(cmd.Context(), failuresSourceID, failuresLimit)
		if err != nil {
			return err
		}

		t := newTable(cmd)
		t.AppendHeader(table.Row{"Item", "Source", "Native ID", "Attempts", "Phase", "At", "Error"})
		for _, f := range failures {
			t.AppendRow(table.Row{
				f.Item.ID, f.Item.SourceID, f.Item.NativeID, f.Item.AttemptCount,
				f.LastError.Phase, formatTime(f.LastError.OccurredAt), f.LastError.Message,
			})
		}
		t.Render()
		return nil
	},
}
