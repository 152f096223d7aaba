package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused sync for --tenant/--user/--service",
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
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

	if !ctrl.Resume(ctx) {
		return fmt.Errorf("synctl: resume rejected for %s/%s (not paused)", userFlag, serviceFlag)
	}
	fmt.Printf("sync run finished for %s/%s\n", userFlag, serviceFlag)
	return nil
}
