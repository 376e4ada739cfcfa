package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var unreferencedLimit int

func init() {
	unreferencedCmd.Flags().IntVar(&unreferencedLimit, "limit", 100, "Maximum number of artifacts to print.")
	rootCmd.AddCommand(releaseCmd, unreferencedCmd)
}

var releaseCmd = &cobra.Command{
	Use:   "release <fingerprint>",
	Short: "Drops one reference of a stored media artifact. Files are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.Media().Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		released, err := a.Media().Release(cmd.Context(), h)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d references left\n", released.Fingerprint, released.RefCount)
		return nil
	},
}

var unreferencedCmd = &cobra.Command{
	Use:   "unreferenced",
	Short: "Lists stored artifacts no item references any more.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		handles, err := a.Media().Unreferenced(cmd.Context(), unreferencedLimit)
		if err != nil {
			return err
		}

		t := newTable(cmd)
		t.AppendHeader(table.Row{"Fingerprint", "Type", "MIME", "Size", "Path"})
		for _, h := range handles {
			t.AppendRow(table.Row{h.Fingerprint, h.Type, h.MIME, h.Size, h.Path})
		}
		t.Render()
		return nil
	},
}
