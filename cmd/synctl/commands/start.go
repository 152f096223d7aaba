package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the initial sync for --tenant/--user/--service",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := requireControlFlags(); err != nil {
		return err
	}
	ctx := cmd.Context()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	ctrl, err := buildController(ctx, d)
	if err != nil {
		return err
	}

	if !ctrl.Start(ctx) {
		return fmt.Errorf("synctl: start rejected for %s/%s (already running or paused)", userFlag, serviceFlag)
	}
	fmt.Printf("sync run finished for %s/%s\n", userFlag, serviceFlag)
	return nil
}
