package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Hard-stop sync, legal from any state (spec §4.6: \"* | stop | STOPPED\")",
	Long: `Stop accepts either --tenant alone (stops mail and drive for every
principal in the tenant) or --tenant/--user/--service together (stops
just that one pair).`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	if tenantFlag == "" {
		return fmt.Errorf("--tenant is required")
	}
	ctx := cmd.Context()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	if userFlag != "" || serviceFlag != "" {
		if err := requireControlFlags(); err != nil {
			return err
		}
		service, err := serviceType()
		if err != nil {
			return err
		}
		if err := stopOne(ctx, d, userFlag, service); err != nil {
			return err
		}
		fmt.Printf("stop requested for %s/%s\n", userFlag, serviceFlag)
		return nil
	}

	admin, err := adminSurface(ctx, tenantFlag)
	if err != nil {
		return err
	}
	principals, err := admin.ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("synctl: list principals for %s: %w", tenantFlag, err)
	}
	for _, p := range principals {
		if p.PrimaryEmail == "" {
			continue
		}
		if err := stopOne(ctx, d, p.PrimaryEmail, syncstate.ServiceMail); err != nil {
			return err
		}
		if err := stopOne(ctx, d, p.PrimaryEmail, syncstate.ServiceDrive); err != nil {
			return err
		}
	}
	fmt.Printf("stop requested for %d principals in tenant %s\n", len(principals), tenantFlag)
	return nil
}

func stopOne(ctx context.Context, d *deps, email string, service syncstate.ServiceType) error {
	if err := d.states.UpdateSyncState(ctx, email, service, syncstate.StateStopped); err != nil {
		return fmt.Errorf("synctl: stop %s/%s: %w", email, service, err)
	}
	return nil
}
