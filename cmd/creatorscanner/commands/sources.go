package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"CreatorScanner/internal/app"
	"CreatorScanner/internal/domain"
)

func init() {
	rootCmd.AddCommand(deactivateCmd, activateCmd)
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <platform> <native-id>",
	Short: "Stops scanning a source while keeping its history.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], args[1], false)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <platform> <native-id>",
	Short: "Resumes scanning a deactivated source.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], args[1], true)
	},
}

func setActive(cmd *cobra.Command, platform, nativeID string, active bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := findSource(cmd, a, platform, nativeID)
	if err != nil {
		return err
	}
	if active {
		err = a.Resolver().Activate(cmd.Context(), src)
	} else {
		err = a.Resolver().Deactivate(cmd.Context(), src)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s active=%t\n", platform, nativeID, active)
	return nil
}

func findSource(cmd *cobra.Command, a *app.Application, platform, nativeID string) (domain.SourceHandle, error) {
	sources, err := a.Resolver().Sources(cmd.Context())
	if err != nil {
		return domain.SourceHandle{}, err
	}
	for _, src := range sources {
		if src.Platform == platform && src.NativeID == nativeID {
			return src, nil
		}
	}
	return domain.SourceHandle{}, fmt.Errorf("%w: source %s/%s", domain.ErrNotFound, platform, nativeID)
}
