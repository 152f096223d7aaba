package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Request a pause for --tenant/--user/--service",
	Long: `Pause writes PAUSED directly through the sync-state repository
rather than signalling an in-process Controller: the controller that
owns the running sync is a separate Lambda invocation, so the only
channel back to it is the state it re-reads before its next batch
(spec §5 suspension point (e)).`,
	RunE: runPause,
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}

func runPause(cmd *cobra.Command, args []string) error {
	if err := requireControlFlags(); err != nil {
		return err
	}
	service, err := serviceType()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	if err := d.states.UpdateSyncState(ctx, userFlag, service, syncstate.StatePaused); err != nil {
		return fmt.Errorf("synctl: pause %s/%s: %w", userFlag, serviceFlag, err)
	}
	fmt.Printf("pause requested for %s/%s\n", userFlag, serviceFlag)
	return nil
}
