// Command synctl is the operator control surface for the mail/drive
// sync core (spec §6.1): start, pause, resume, and stop one
// (tenant, user, serviceType) pair.
package main

import (
	"fmt"
	"os"

	"github.com/knowledge-sync/sync-core/cmd/synctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
